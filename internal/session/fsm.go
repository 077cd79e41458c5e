package session

type EventKind int

const (
	EventOpened EventKind = iota
	EventRecordStarted
	EventRecordStopped
	EventRecordAborted
	EventStatusUpdate
	EventTranscription
	EventReply
	EventPlaybackEnded
	EventClosed
	EventReplyTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventRecordStarted:
		return "record_started"
	case EventRecordStopped:
		return "record_stopped"
	case EventRecordAborted:
		return "record_aborted"
	case EventStatusUpdate:
		return "status_update"
	case EventTranscription:
		return "transcription"
	case EventReply:
		return "reply"
	case EventPlaybackEnded:
		return "playback_ended"
	case EventClosed:
		return "closed"
	case EventReplyTimeout:
		return "reply_timeout"
	default:
		return "unknown"
	}
}

// Event drives a status transition. Status is only read for EventStatusUpdate.
type Event struct {
	Kind   EventKind
	Status Status
}

// Next is the only place a status is computed. Record gating happens before
// an EventRecordStarted is produced.
func Next(cur Status, ev Event) Status {
	switch ev.Kind {
	case EventOpened:
		if cur == Offline {
			return Idle
		}
		return cur
	case EventRecordStarted:
		return Listening
	case EventStatusUpdate:
		return ev.Status
	case EventReply:
		return Speaking
	case EventPlaybackEnded:
		return Idle
	case EventClosed:
		return Offline
	case EventRecordAborted:
		// nothing was sent, so no reply will come
		if cur == Listening {
			return Idle
		}
		return cur
	case EventReplyTimeout:
		if cur == Listening || cur == Thinking {
			return Idle
		}
		return cur
	default:
		// record stopped and transcription leave the status to the backend
		return cur
	}
}
