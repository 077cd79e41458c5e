// Package playback fetches reply audio over HTTP and plays it, one resource at
// a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"sync"

	"kino/pkg/audioconv"
)

var ErrPlayback = errors.New("playback failed")

const maxResourceSize = 32 << 20

// Output renders decoded audio. Play blocks until the audio finished or ctx
// is cancelled, in which case it returns ctx.Err().
type Output interface {
	Play(ctx context.Context, pcm audioconv.PCM) error
}

type Player struct {
	client *http.Client
	out    Output

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewPlayer(client *http.Client, out Output) *Player {
	if client == nil {
		client = http.DefaultClient
	}
	return &Player{client: client, out: out}
}

// Play interrupts the current playback and starts url. done is called once
// with the outcome unless this playback is itself interrupted.
func (p *Player) Play(url string, done func(error)) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()

		err := p.play(ctx, url)

		p.mu.Lock()
		current := gen == p.gen
		if current {
			p.cancel = nil
		}
		p.mu.Unlock()

		if !current || ctx.Err() != nil {
			log.Debug("Playback interrupted", "url", url)
			return
		}
		if err != nil {
			log.Warn("Playback failed", "url", url, "err", err)
		}
		if done != nil {
			done(err)
		}
	}()
}

// Stop interrupts the current playback without reporting completion.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Player) play(ctx context.Context, url string) error {
	data, err := p.fetch(ctx, url)
	if err != nil {
		return err
	}

	pcm, err := audioconv.Decode(data, 0)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrPlayback, err)
	}
	log.Debug("Playing", "url", url, "duration", pcm.Duration(), "rate", pcm.SampleRate)

	if err := p.out.Play(ctx, pcm); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: output: %v", ErrPlayback, err)
	}
	return nil
}

func (p *Player) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlayback, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", ErrPlayback, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch: %s", ErrPlayback, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrPlayback, err)
	}
	return data, nil
}
