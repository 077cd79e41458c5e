package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	"kino/internal/audio"
	"kino/internal/config"
	"kino/internal/history"
	"kino/internal/ipc"
	"kino/internal/notify"
	"kino/internal/playback"
	"kino/internal/proxy"
	"kino/internal/session"
	"kino/internal/view"
	"kino/pkg/protocol"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "kino:", err)
		os.Exit(2)
	}

	logOut, closeLog, err := logOutput(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kino:", err)
		os.Exit(1)
	}
	defer closeLog()

	log.SetDefault(log.New(tint.NewHandler(logOut, &tint.Options{
		Level:   cfg.Level(),
		NoColor: !cfg.Headless,
	})))

	if cfg.PrintHistory {
		if err := printHistory(cfg); err != nil {
			log.Error("Failed to print history", "err", err)
			os.Exit(1)
		}
		return
	}

	log.Info("Booting up", "origin", cfg.Origin, "endpoint", cfg.Endpoint())

	httpClient, err := proxy.NewSocksClient(cfg.Proxy)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.Proxy, "err", err)
		os.Exit(1)
	}
	wsDialer, err := proxy.NewSocksDialer(cfg.Proxy, session.DefaultDialTimeout)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.Proxy, "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded proxy", "proxy", cfg.Proxy)

	rec := audio.NewRecorder(cfg.MaxClip)
	if err := rec.Init(); err != nil {
		// gestures will report the device error to the user
		log.Error("Failed to init audio", "err", err)
	}
	defer rec.Close()

	log.Debug("Loaded recorder")

	player := playback.NewPlayer(httpClient, playback.NewSpeaker(playback.DefaultSpeakerRate))

	endpoint := cfg.Endpoint()
	dial := func(ctx context.Context) (session.Transport, error) {
		conn, err := protocol.Dial(ctx, endpoint, wsDialer)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	sess := session.New(dial, alertingRecorder{rec}, player, session.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		ReplyTimeout:   cfg.ReplyTimeout,
		ResolveAudio: func(ref string) (string, error) {
			return protocol.AudioURL(cfg.Origin, ref, time.Now())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// followers outlive the session so its final snapshot is handled
	followCtx, stopFollowers := context.WithCancel(context.Background())
	var followers sync.WaitGroup
	follow := func(run func(context.Context)) {
		followers.Add(1)
		go func() {
			defer followers.Done()
			run(followCtx)
		}()
	}

	if cfg.HistoryDir != "" {
		journal, err := history.Open(history.Options{Dir: cfg.HistoryDir})
		if err != nil {
			log.Error("Failed to open history", "dir", cfg.HistoryDir, "err", err)
			os.Exit(1)
		}
		defer journal.Close()

		hf := history.NewFollower(journal)
		sess.Subscribe(hf.Observe)
		follow(hf.Run)
		log.Debug("Loaded history", "dir", cfg.HistoryDir)
	}

	if cfg.Duck {
		df := audio.NewDuckFollower(audio.NewDucker([]string{notify.AppName}, 5), cfg.DuckFactor, 300*time.Millisecond)
		sess.Subscribe(func(s session.Snapshot) {
			df.Set(s.Status == session.Listening || s.Status == session.Speaking)
		})
		follow(df.Run)
	}

	if cfg.Headless {
		sess.Subscribe(statusLogger())
	}

	var feed *view.Feed
	if !cfg.Headless {
		feed = view.NewFeed()
		sess.Subscribe(feed.Push)
	}

	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Session stopped", "err", err)
		}
	}()

	if cfg.Socket != "" {
		srv, err := ipc.StartServer(cfg.Socket, ipc.SessionHandler(sess))
		if err != nil {
			log.Error("Failed ipc server", "err", err)
		} else {
			defer srv.Close()
		}
	}

	log.Info("Boot up - successful")

	if cfg.Headless {
		<-ctx.Done()
	} else {
		avatars := view.NewAvatars(httpClient, cfg.Origin, 24)
		prog := tea.NewProgram(view.New(sess, feed, avatars), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error("Terminal UI failed", "err", err)
		}
	}

	log.Info("Shutting down")
	sess.Close()
	stopFollowers()
	followers.Wait()
}

func logOutput(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Headless || cfg.PrintHistory || cfg.LogFile == "" {
		if cfg.Headless {
			return os.Stdout, func() {}, nil
		}
		return os.Stderr, func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printHistory(cfg *config.Config) error {
	journal, err := history.Open(history.Options{Dir: cfg.HistoryDir})
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.List(cfg.HistoryLimit)
	if err != nil {
		return err
	}
	return history.Print(os.Stdout, entries)
}

// alertingRecorder raises a desktop notification for capture failures, which
// the user has to fix outside the client.
type alertingRecorder struct {
	*audio.Recorder
}

func (r alertingRecorder) Begin() error {
	err := r.Recorder.Begin()
	if err != nil {
		go func() {
			if nerr := notify.Alert("Erro Microfone", err.Error()); nerr != nil {
				log.Debug("Failed to notify", "err", nerr)
			}
		}()
	}
	return err
}

func statusLogger() func(session.Snapshot) {
	last := session.Snapshot{Status: -1}
	return func(s session.Snapshot) {
		if s.Status != last.Status || s.Connected != last.Connected {
			log.Info("Status", "status", s.Status, "label", s.Status.Label(), "connected", s.Connected)
		}
		if s.Utterance != "" && s.Utterance != last.Utterance {
			log.Info("Você", "text", s.Utterance)
		}
		if s.Replies > last.Replies {
			log.Info("virtKino", "text", s.Reply)
		}
		last = s
	}
}
