package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWsServer(t *testing.T, handle func(conn *ws.Conn)) string {
	t.Helper()

	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + EndpointPath
}

func TestWebSocketRoundTrip(t *testing.T) {
	got := make(chan Outbound, 1)
	url := newWsServer(t, func(conn *ws.Conn) {
		defer conn.Close()

		var out Outbound
		if err := conn.ReadJSON(&out); err != nil {
			return
		}
		got <- out

		_ = conn.WriteJSON(map[string]string{"tipo": "estado", "valor": "thinking"})
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	web, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer web.Close()

	require.NoError(t, web.Write(NewAudioMessage([]byte{1, 2, 3})))

	select {
	case out := <-got:
		assert.Equal(t, "AQID", out.AudioData)
	case <-ctx.Done():
		t.Fatal("server did not receive clip")
	}

	in := web.Read()
	require.Equal(t, ReadOK, in.Kind)
	msg, err := Parse(in.Msg)
	require.NoError(t, err)
	assert.Equal(t, "thinking", msg.Value)

	in = web.Read()
	assert.Equal(t, ConnClose, in.Kind)
	assert.Error(t, in.Err)
}

func TestWebSocketAbruptDrop(t *testing.T) {
	url := newWsServer(t, func(conn *ws.Conn) {
		conn.UnderlyingConn().Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	web, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer web.Close()

	in := web.Read()
	assert.NotEqual(t, ReadOK, in.Kind)
	assert.Error(t, in.Err)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", nil)
	assert.Error(t, err)
}

func TestWriteFailsAgainstStalledPeer(t *testing.T) {
	release := make(chan struct{})
	url := newWsServer(t, func(conn *ws.Conn) {
		// never reads, so the socket buffers fill up
		<-release
		conn.Close()
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	web, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	web.SetWriteTimeout(200 * time.Millisecond)

	clip := NewAudioMessage(make([]byte, 2<<20))
	errc := make(chan error, 1)
	go func() {
		for {
			if err := web.Write(clip); err != nil {
				errc <- err
				return
			}
		}
	}()

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write kept blocking against a peer that never reads")
	}

	closed := make(chan struct{})
	go func() {
		_ = web.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked after a failed write")
	}
}
