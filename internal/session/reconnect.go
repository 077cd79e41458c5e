package session

import (
	"context"
	log "log/slog"
	"time"
)

// connect starts one dial unless a transport is live or a dial is in flight.
func (s *Session) connect() {
	if s.closed || s.conn != nil || s.dialing {
		return
	}
	s.dialing = true

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
	go func() {
		defer cancel()

		t, err := s.dial(ctx)
		if t != nil && s.ctx.Err() != nil {
			_ = t.Close()
			return
		}
		if !s.post(dialedEvent{t: t, err: err}) && t != nil {
			_ = t.Close()
		}
	}()
}

func (s *Session) handleDialed(t Transport, err error) {
	s.dialing = false

	if err != nil {
		log.Warn("Failed to connect", "err", err)
		s.apply(Event{Kind: EventClosed})
		s.scheduleReconnect()
		return
	}

	if s.closed || s.conn != nil {
		_ = t.Close()
		return
	}

	s.cancelReconnect()
	s.conn = t
	s.connGen++
	go s.readLoop(s.connGen, t)

	log.Info("Connected")
	s.snap.Connected = true
	s.apply(Event{Kind: EventOpened})
}

// handleClosed folds every way a transport can end (peer close, read error,
// write error) into one path, so only one reconnect gets scheduled.
func (s *Session) handleClosed(gen uint64, err error) {
	if s.conn == nil || gen != s.connGen {
		return
	}

	log.Warn("Transport closed", "err", err)
	_ = s.conn.Close()
	s.conn = nil
	s.snap.Connected = false

	s.stopReplyTimer()
	s.playGen++
	s.player.Stop()

	s.apply(Event{Kind: EventClosed})
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if s.closed {
		return
	}
	s.cancelReconnect()

	gen := s.reconnectGen
	log.Info("Reconnecting", "in", s.opts.ReconnectDelay)
	s.reconnect = time.AfterFunc(s.opts.ReconnectDelay, func() {
		s.post(redialEvent{gen: gen})
	})
}

func (s *Session) cancelReconnect() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.reconnectGen++
}
