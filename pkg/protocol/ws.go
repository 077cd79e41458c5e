package protocol

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds every frame written to the peer, close frames
// included. A peer that stops reading fails the write instead of blocking it.
const DefaultWriteTimeout = 10 * time.Second

type WebSocket struct {
	conn    *ws.Conn
	url     string
	timeout time.Duration

	writeMu sync.Mutex
}

// Dial opens one websocket connection. A nil dialer uses ws.DefaultDialer.
func Dial(ctx context.Context, url string, dialer *ws.Dialer) (*WebSocket, error) {
	log.Debug("Dialing websocket", "url", url)

	if dialer == nil {
		dialer = ws.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	log.Debug("Connected websocket", "url", url)
	return &WebSocket{conn: conn, url: url, timeout: DefaultWriteTimeout}, nil
}

// SetWriteTimeout replaces DefaultWriteTimeout. d <= 0 keeps the current value.
func (web *WebSocket) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	web.writeMu.Lock()
	web.timeout = d
	web.writeMu.Unlock()
}

// Write sends v as one JSON text frame.
func (web *WebSocket) Write(v any) error {
	web.writeMu.Lock()
	defer web.writeMu.Unlock()

	if err := web.conn.SetWriteDeadline(time.Now().Add(web.timeout)); err != nil {
		return err
	}
	if err := web.conn.WriteJSON(v); err != nil {
		log.Debug("Write ws failed", "url", web.url, "err", err)
		return err
	}
	return nil
}

type IncomeKind uint

const (
	ConnClose IncomeKind = iota
	ReadFailure
	ReadOK
)

func (k IncomeKind) String() string {
	switch k {
	case ConnClose:
		return "close"
	case ReadFailure:
		return "failure"
	case ReadOK:
		return "ok"
	default:
		return "unknown"
	}
}

type Income struct {
	Kind IncomeKind
	Msg  []byte
	Err  error
}

// Read blocks for the next frame. After a ConnClose or ReadFailure the
// connection is unusable.
func (web *WebSocket) Read() Income {
	_, msg, err := web.conn.ReadMessage()
	if err != nil {
		if WsIsClosed(err) {
			return Income{Kind: ConnClose, Err: err}
		}
		return Income{Kind: ReadFailure, Err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{Kind: ReadOK, Msg: msg}
}

// Close sends a close frame when possible and releases the connection.
func (web *WebSocket) Close() error {
	// WriteControl carries its own deadline, so a stuck Write holding
	// writeMu only delays it by at most one timeout
	web.writeMu.Lock()
	_ = web.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(web.timeout))
	web.writeMu.Unlock()

	log.Debug("Closed websocket", "url", web.url)
	err := web.conn.Close()
	if errors.Is(err, ws.ErrCloseSent) {
		return nil
	}
	return err
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
