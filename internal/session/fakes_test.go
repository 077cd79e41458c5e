package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kino/pkg/protocol"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	written  []any
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read() protocol.Income {
	select {
	case msg := <-c.in:
		return protocol.Income{Kind: protocol.ReadOK, Msg: msg}
	case <-c.closed:
		return protocol.Income{Kind: protocol.ConnClose, Err: errors.New("websocket: close 1000")}
	}
}

func (c *fakeConn) Write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(msg string) { c.in <- []byte(msg) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	calls []time.Time
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, time.Now())
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) callTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.calls...)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type fakeRecorder struct {
	mu       sync.Mutex
	begins   int
	ends     int
	active   bool
	beginErr error
	clip     []byte
}

func (r *fakeRecorder) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begins++
	if r.beginErr != nil {
		return r.beginErr
	}
	r.active = true
	return nil
}

func (r *fakeRecorder) End() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	if !r.active {
		return nil, nil
	}
	r.active = false
	return r.clip, nil
}

func (r *fakeRecorder) beginCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begins
}

type fakePlay struct {
	url  string
	done func(error)
}

type fakePlayer struct {
	mu    sync.Mutex
	plays []fakePlay
	stops int
}

func (p *fakePlayer) Play(url string, done func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, fakePlay{url: url, done: done})
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func (p *fakePlayer) play(i int) fakePlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays[i]
}

// statusLog records every published status in order.
type statusLog struct {
	mu   sync.Mutex
	seen []Status
}

func (l *statusLog) observe(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.seen); n == 0 || l.seen[n-1] != s.Status {
		l.seen = append(l.seen, s.Status)
	}
}

func (l *statusLog) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.seen...)
}

type harness struct {
	t      *testing.T
	s      *Session
	dialer *fakeDialer
	rec    *fakeRecorder
	player *fakePlayer
	log    *statusLog
	errc   chan error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		dialer: &fakeDialer{},
		rec:    &fakeRecorder{clip: []byte("RIFFclip")},
		player: &fakePlayer{},
		log:    &statusLog{},
		errc:   make(chan error, 1),
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 50 * time.Millisecond
	}
	h.s = New(h.dialer.Dial, h.rec, h.player, opts)
	h.s.Subscribe(h.log.observe)
	return h
}

func (h *harness) start() {
	go func() { h.errc <- h.s.Run(context.Background()) }()
	h.t.Cleanup(func() {
		h.s.Close()
		<-h.errc
	})
}

func (h *harness) waitStatus(want Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.s.Snapshot().Status == want
	}, 2*time.Second, 5*time.Millisecond, "status never became %s (now %s)", want, h.s.Snapshot().Status)
}

func (h *harness) waitSnapshot(cond func(Snapshot) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return cond(h.s.Snapshot())
	}, 2*time.Second, 5*time.Millisecond)
}

// connected starts the session and waits for the first transport.
func (h *harness) connected() *fakeConn {
	h.t.Helper()
	h.start()
	h.waitStatus(Idle)
	c := h.dialer.conn(0)
	require.NotNil(h.t, c)
	return c
}
