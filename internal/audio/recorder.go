package audio

import (
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"

	"kino/pkg/audioconv"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

const (
	SampleRate = 16000
	frameSize  = 1024
)

// Clip is one encoded push-to-talk recording.
type Clip struct {
	ID       string
	WAV      []byte
	Duration time.Duration
}

// Recorder captures the default input device between Begin and End.
type Recorder struct {
	MaxDuration time.Duration

	mu      sync.Mutex
	stream  *portaudio.Stream
	stop    chan struct{}
	done    chan struct{}
	samples []float32
	readErr error
}

func NewRecorder(maxDur time.Duration) *Recorder {
	if maxDur <= 0 {
		maxDur = 60 * time.Second
	}
	return &Recorder{MaxDuration: maxDur}
}

func (r *Recorder) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return classify(err)
	}
	return nil
}

func (r *Recorder) Close() {
	r.mu.Lock()
	active := r.stream != nil
	r.mu.Unlock()
	if active {
		_, _ = r.Finish()
	}
	portaudio.Terminate()
}

// Begin opens the input stream and starts capturing in the background.
func (r *Recorder) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return errors.New("capture already running")
	}

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return classify(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return classify(err)
	}

	r.stream = stream
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.samples = make([]float32, 0, SampleRate*5)
	r.readErr = nil

	go r.capture(stream, buf, r.stop, r.done)

	log.Debug("Capture started")
	return nil
}

func (r *Recorder) capture(stream *portaudio.Stream, buf []float32, stop, done chan struct{}) {
	defer close(done)

	maxSamples := int(r.MaxDuration.Seconds() * SampleRate)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// overflow only means we dropped a frame
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			r.mu.Lock()
			r.readErr = err
			r.mu.Unlock()
			return
		}

		r.mu.Lock()
		r.samples = append(r.samples, buf...)
		full := len(r.samples) >= maxSamples
		r.mu.Unlock()

		if full {
			log.Warn("Clip reached max duration", "max", r.MaxDuration)
			return
		}
	}
}

// End stops capturing and returns the WAV bytes of the clip, nil when no
// capture was running.
func (r *Recorder) End() ([]byte, error) {
	clip, err := r.Finish()
	if err != nil || clip == nil {
		return nil, err
	}
	return clip.WAV, nil
}

// Finish stops capturing and returns the clip.
func (r *Recorder) Finish() (*Clip, error) {
	r.mu.Lock()
	stream := r.stream
	stop, done := r.stop, r.done
	r.mu.Unlock()

	if stream == nil {
		return nil, nil
	}

	close(stop)
	<-done

	r.mu.Lock()
	samples := r.samples
	readErr := r.readErr
	r.stream = nil
	r.samples = nil
	r.mu.Unlock()

	if err := stream.Stop(); err != nil {
		log.Warn("Failed to stop stream", "err", err)
	}
	stream.Close()

	if readErr != nil && len(samples) == 0 {
		return nil, fmt.Errorf("read input: %w", readErr)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	wav, err := audioconv.EncodeWAV(samples, SampleRate)
	if err != nil {
		return nil, err
	}

	clip := &Clip{
		ID:       uuid.NewString(),
		WAV:      wav,
		Duration: time.Duration(float64(len(samples)) / SampleRate * float64(time.Second)),
	}
	log.Info("Recorded", "clip", clip.ID, "samples", len(samples), "duration", clip.Duration)
	return clip, nil
}

// classify maps PortAudio failures onto the two errors the user can act on.
func classify(err error) error {
	var paErr portaudio.Error
	if !errors.As(err, &paErr) {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	switch paErr {
	case portaudio.UnanticipatedHostError:
		// ALSA/Pulse report a refused device open as a host error
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
