// Package session owns the backend connection of the client and the status
// state machine the view renders.
//
// All state lives on one loop goroutine started by Run. Transport reads,
// dial results, timers, playback completions and user gestures are posted
// to the loop and handled in arrival order, so no locks guard the state.
package session

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"kino/pkg/protocol"
)

var (
	ErrNotReady         = errors.New("session: not ready to record")
	ErrAlreadyRecording = errors.New("session: already recording")
	ErrOffline          = errors.New("session: no live transport")
	ErrClosed           = errors.New("session: closed")
)

// Transport is one duplex connection to the backend.
type Transport interface {
	Read() protocol.Income
	Write(v any) error
	Close() error
}

type DialFunc func(ctx context.Context) (Transport, error)

// Recorder captures one clip per gesture. End returns nil when Begin never
// succeeded.
type Recorder interface {
	Begin() error
	End() ([]byte, error)
}

// Player plays one resource at a time. done is called once unless the
// playback is interrupted by Stop or another Play.
type Player interface {
	Play(url string, done func(error))
	Stop()
}

type Options struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	// ReplyTimeout bounds the wait for a reply after a clip is sent. Zero
	// disables it.
	ReplyTimeout time.Duration
	// ResolveAudio turns the backend's audio_url into a fetchable URL.
	ResolveAudio func(ref string) (string, error)
}

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ResolveAudio == nil {
		o.ResolveAudio = func(ref string) (string, error) { return ref, nil }
	}
	return o
}

// Snapshot is what observers see after every change.
type Snapshot struct {
	Status    Status
	Utterance string
	Reply     string
	Debug     *protocol.Debug
	AudioURL  string
	Connected bool
	Recording bool
	Replies   int
}

type Session struct {
	dial   DialFunc
	rec    Recorder
	player Player
	opts   Options

	events    chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	lastMu sync.RWMutex
	last   Snapshot

	// owned by the loop
	ctx          context.Context
	cancel       context.CancelFunc
	snap         Snapshot
	conn         Transport
	connGen      uint64
	dialing      bool
	closed       bool
	recording    bool
	reconnect    *time.Timer
	reconnectGen uint64
	replyTimer   *time.Timer
	replyGen     uint64
	playGen      uint64
}

func New(dial DialFunc, rec Recorder, player Player, opts Options) *Session {
	return &Session{
		dial:   dial,
		rec:    rec,
		player: player,
		opts:   opts.withDefaults(),
		events: make(chan any, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		subs:   make(map[int]func(Snapshot)),
		snap:   Snapshot{Status: Offline},
		last:   Snapshot{Status: Offline},
	}
}

type (
	dialedEvent struct {
		t   Transport
		err error
	}
	inboundEvent struct {
		gen uint64
		msg []byte
	}
	closedEvent struct {
		gen uint64
		in  protocol.Income
	}
	redialEvent struct {
		gen uint64
	}
	replyTimeoutEvent struct {
		gen uint64
	}
	playbackDoneEvent struct {
		gen uint64
		err error
	}
	request struct {
		kind  requestKind
		reply chan error
	}
)

type requestKind int

const (
	reqStart requestKind = iota
	reqStop
	reqToggle
)

// Run connects and processes events until ctx is cancelled or Close is
// called. It must be running for the gesture methods to return.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.publish()
	s.connect()

	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return ctx.Err()
		case <-s.quit:
			s.teardown()
			return nil
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// Close tears the session down for good: no reconnect is attempted after it.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) StartRecording() error { return s.request(reqStart) }
func (s *Session) StopRecording() error  { return s.request(reqStop) }
func (s *Session) Toggle() error         { return s.request(reqToggle) }

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Subscribe registers fn for every published snapshot. fn runs on the loop
// goroutine and must not call back into the gesture methods synchronously.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) request(kind requestKind) error {
	r := request{kind: kind, reply: make(chan error, 1)}
	if !s.post(r) {
		return ErrClosed
	}

	select {
	case err := <-r.reply:
		return err
	case <-s.done:
		select {
		case err := <-r.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case dialedEvent:
		s.handleDialed(e.t, e.err)
	case inboundEvent:
		if e.gen == s.connGen && s.conn != nil {
			s.handleInbound(e.msg)
		}
	case closedEvent:
		s.handleClosed(e.gen, e.in.Err)
	case redialEvent:
		if e.gen != s.reconnectGen {
			return
		}
		s.reconnect = nil
		s.connect()
	case replyTimeoutEvent:
		if e.gen != s.replyGen {
			return
		}
		s.replyTimer = nil
		log.Warn("No reply from backend", "after", s.opts.ReplyTimeout)
		s.apply(Event{Kind: EventReplyTimeout})
	case playbackDoneEvent:
		s.handlePlaybackDone(e.gen, e.err)
	case request:
		var err error
		switch e.kind {
		case reqStart:
			err = s.startRecording()
		case reqStop:
			err = s.stopRecording()
		case reqToggle:
			if s.recording {
				err = s.stopRecording()
			} else {
				err = s.startRecording()
			}
		}
		e.reply <- err
	}
}

func (s *Session) readLoop(gen uint64, t Transport) {
	for {
		in := t.Read()
		if in.Kind != protocol.ReadOK {
			s.post(closedEvent{gen: gen, in: in})
			return
		}
		if !s.post(inboundEvent{gen: gen, msg: in.Msg}) {
			return
		}
	}
}

func (s *Session) handleInbound(data []byte) {
	in, err := protocol.Parse(data)
	if err != nil {
		log.Warn("Failed to parse", "msg", string(data), "err", err)
		return
	}

	switch in.Kind {
	case protocol.KindStatus:
		st, err := ParseStatus(in.Value)
		if err != nil {
			log.Warn("Ignoring status update", "err", err)
			return
		}
		if st != Listening && st != Thinking {
			s.stopReplyTimer()
		}
		s.apply(Event{Kind: EventStatusUpdate, Status: st})

	case protocol.KindTranscription:
		log.Info("Transcribed", "text", in.Text)
		s.snap.Utterance = in.Text
		s.apply(Event{Kind: EventTranscription})

	case protocol.KindReply:
		s.handleReply(in)
	}
}

func (s *Session) handleReply(in *protocol.Inbound) {
	s.stopReplyTimer()

	log.Info("Reply", "text", in.Text, "audio", in.AudioURL)
	s.snap.Reply = in.Text
	s.snap.Replies++

	if in.HasDebug() {
		d, err := protocol.ParseDebug(in.Debug)
		if err != nil {
			log.Warn("Keeping previous debug payload", "err", err)
		} else {
			s.snap.Debug = d
		}
	}

	url, err := s.opts.ResolveAudio(in.AudioURL)
	if err != nil {
		log.Warn("Failed to resolve audio url", "url", in.AudioURL, "err", err)
		url = in.AudioURL
	}
	s.snap.AudioURL = url

	s.playGen++
	gen := s.playGen
	s.apply(Event{Kind: EventReply})

	s.player.Play(url, func(err error) {
		s.post(playbackDoneEvent{gen: gen, err: err})
	})
}

func (s *Session) handlePlaybackDone(gen uint64, err error) {
	if gen != s.playGen {
		return
	}
	if err != nil {
		log.Error("Playback failed", "url", s.snap.AudioURL, "err", err)
	}
	s.apply(Event{Kind: EventPlaybackEnded})
}

func (s *Session) startRecording() error {
	if s.recording {
		return ErrAlreadyRecording
	}
	if !s.snap.Status.CanRecord(s.conn != nil) {
		log.Debug("Record gesture rejected", "status", s.snap.Status, "connected", s.conn != nil)
		return ErrNotReady
	}

	if err := s.rec.Begin(); err != nil {
		log.Error("Failed to start capture", "err", err)
		return err
	}

	s.recording = true
	s.snap.Recording = true
	s.snap.Utterance = ""
	s.apply(Event{Kind: EventRecordStarted})
	return nil
}

func (s *Session) stopRecording() error {
	if !s.recording {
		return nil
	}
	s.recording = false
	s.snap.Recording = false

	clip, err := s.rec.End()
	if err != nil {
		log.Error("Failed to finish capture", "err", err)
		s.apply(Event{Kind: EventRecordAborted})
		return fmt.Errorf("capture: %w", err)
	}
	if len(clip) == 0 {
		s.apply(Event{Kind: EventRecordAborted})
		return nil
	}

	if s.conn == nil {
		log.Warn("Dropping clip, transport offline", "bytes", len(clip))
		s.apply(Event{Kind: EventRecordAborted})
		return ErrOffline
	}

	if err := s.conn.Write(protocol.NewAudioMessage(clip)); err != nil {
		log.Error("Failed to transmit clip", "err", err)
		s.handleClosed(s.connGen, err)
		return fmt.Errorf("send clip: %w", err)
	}

	log.Info("Clip sent", "bytes", len(clip))
	s.armReplyTimer()
	s.apply(Event{Kind: EventRecordStopped})
	return nil
}

func (s *Session) armReplyTimer() {
	s.stopReplyTimer()
	if s.opts.ReplyTimeout <= 0 {
		return
	}
	gen := s.replyGen
	s.replyTimer = time.AfterFunc(s.opts.ReplyTimeout, func() {
		s.post(replyTimeoutEvent{gen: gen})
	})
}

func (s *Session) stopReplyTimer() {
	if s.replyTimer != nil {
		s.replyTimer.Stop()
		s.replyTimer = nil
	}
	s.replyGen++
}

func (s *Session) apply(ev Event) {
	prev := s.snap.Status
	s.snap.Status = Next(prev, ev)
	if prev != s.snap.Status {
		log.Info("Status", "from", prev, "to", s.snap.Status, "event", ev.Kind)
	}
	s.publish()
}

func (s *Session) publish() {
	snap := s.snap

	s.lastMu.Lock()
	s.last = snap
	s.lastMu.Unlock()

	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Session) teardown() {
	s.closed = true
	s.cancel()
	s.cancelReconnect()
	s.stopReplyTimer()

	if s.recording {
		s.recording = false
		s.snap.Recording = false
		if _, err := s.rec.End(); err != nil {
			log.Warn("Failed to stop capture", "err", err)
		}
	}

	s.playGen++
	s.player.Stop()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.snap.Connected = false
	s.apply(Event{Kind: EventClosed})
	s.drain()

	log.Info("Session closed")
}

// drain releases transports that finished dialing while the loop was
// shutting down.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			if d, ok := ev.(dialedEvent); ok && d.t != nil {
				_ = d.t.Close()
			}
			if r, ok := ev.(request); ok {
				r.reply <- ErrClosed
			}
		default:
			return
		}
	}
}
