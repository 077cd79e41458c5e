// Package ipc is the local control socket used by desktop hotkeys to drive
// the push-to-talk gesture of a running client.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/kino.sock"

const (
	CmdBegin  = "begin"
	CmdEnd    = "end"
	CmdToggle = "toggle"
	CmdStatus = "status"
)

var ErrUnknownCommand = errors.New("unknown command")

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Status    string `json:"status,omitempty"`
	Label     string `json:"label,omitempty"`
	Connected bool   `json:"connected"`
	Recording bool   `json:"recording"`
}

type Handler func(ControlMessage) Reply

type Server struct {
	path string
	ln   net.Listener
	wg   sync.WaitGroup
}

// StartServer listens on path, replacing a stale socket file, and serves one
// command per connection.
func StartServer(path string, handler Handler) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{path: path, ln: ln}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("Failed to accept control connection", "err", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				handleConn(conn, handler)
			}()
		}
	}()

	log.Debug("Control socket listening", "path", path)
	return s, nil
}

func (s *Server) Path() string { return s.path }

func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	os.Remove(s.path)
	return err
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		return
	}

	log.Debug("Control command", "cmd", msg.Cmd)
	if err := json.NewEncoder(conn).Encode(handler(msg)); err != nil {
		log.Debug("Failed to answer control command", "err", err)
	}
}

// SendCommand sends cmd to the client listening on path and waits for its
// reply.
func SendCommand(path, cmd string) (Reply, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
