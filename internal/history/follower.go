package history

import (
	"context"
	log "log/slog"

	"kino/internal/session"
)

// Follower turns session snapshots into journal entries. Observe runs on the
// session loop and never blocks it; writes happen on Run's goroutine.
type Follower struct {
	journal *Journal
	queue   chan Exchange
	replies int
}

func NewFollower(j *Journal) *Follower {
	return &Follower{journal: j, queue: make(chan Exchange, 32)}
}

func (f *Follower) Observe(s session.Snapshot) {
	if s.Replies <= f.replies {
		return
	}
	f.replies = s.Replies

	e := Exchange{
		Utterance: s.Utterance,
		Reply:     s.Reply,
		AudioURL:  s.AudioURL,
	}
	if s.Debug != nil {
		e.Intent = s.Debug.Intent
		e.Debug = s.Debug.Raw
	}

	select {
	case f.queue <- e:
	default:
		log.Warn("History queue full, dropping exchange")
	}
}

// Run writes queued exchanges until ctx ends, then flushes what is left.
func (f *Follower) Run(ctx context.Context) {
	for {
		select {
		case e := <-f.queue:
			f.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-f.queue:
					f.write(e)
				default:
					return
				}
			}
		}
	}
}

func (f *Follower) write(e Exchange) {
	stored, err := f.journal.Append(e)
	if err != nil {
		log.Error("Failed to journal exchange", "err", err)
		return
	}
	log.Debug("Journaled exchange", "id", stored.ID)
}
