package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"kino/pkg/audioconv"
)

const DefaultSpeakerRate = 44100

// Speaker is the process-wide output device. It is initialised on first use
// and never closed.
type Speaker struct {
	rate beep.SampleRate

	once    sync.Once
	initErr error
}

func NewSpeaker(rate int) *Speaker {
	if rate <= 0 {
		rate = DefaultSpeakerRate
	}
	return &Speaker{rate: beep.SampleRate(rate)}
}

func (s *Speaker) init() error {
	s.once.Do(func() {
		s.initErr = speaker.Init(s.rate, s.rate.N(time.Second/10))
	})
	return s.initErr
}

func (s *Speaker) Play(ctx context.Context, pcm audioconv.PCM) error {
	if err := s.init(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	if len(pcm.Samples) == 0 {
		return nil
	}

	var stream beep.Streamer = &pcmStreamer{samples: pcm.Samples}
	if pcm.SampleRate > 0 && beep.SampleRate(pcm.SampleRate) != s.rate {
		stream = beep.Resample(4, beep.SampleRate(pcm.SampleRate), s.rate, stream)
	}

	finished := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(stream, beep.Callback(func() {
		close(finished)
	}))}
	speaker.Play(ctrl)

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		// a nil streamer makes the mixer drop it
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

// pcmStreamer feeds mono samples to both channels.
type pcmStreamer struct {
	samples []float32
	pos     int
}

func (p *pcmStreamer) Stream(buf [][2]float64) (int, bool) {
	if p.pos >= len(p.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && p.pos < len(p.samples) {
		v := float64(p.samples[p.pos])
		buf[n][0] = v
		buf[n][1] = v
		n++
		p.pos++
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }
