//go:build portaudio

// Package portaudio implements audio.Capture and audio.Playback on the host's
// default input and output devices through PortAudio.
//
// Building it requires cgo and the PortAudio headers; enable it with the
// "portaudio" build tag. Without the tag, New reports that audio I/O is
// unavailable.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

const (
	// frameDuration is the size of one device buffer.
	frameDuration = 20 * time.Millisecond
	// outputRate is the rate the speaker stream is opened at; synthesised
	// audio is resampled to it.
	outputRate = 48000
)

// Device owns the PortAudio runtime and hands out capture and playback
// streams on the default devices.
type Device struct {
	mu     sync.Mutex
	closed bool
}

// Ensure Device implements both audio interfaces at compile time.
var (
	_ audio.Capture  = (*Device)(nil)
	_ audio.Playback = (*Device)(nil)
)

// New initialises PortAudio. Close must be called to release it.
func New() (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return &Device{}, nil
}

// Close terminates PortAudio. Streams still open are invalid afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return portaudio.Terminate()
}

// Open implements audio.Capture.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.InputStream, error) {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	framesPerBuffer := int(time.Duration(format.SampleRate) * frameDuration / time.Second)
	buf := make([]int16, framesPerBuffer*format.Channels)

	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	in := &inputStream{
		stream: stream,
		buf:    buf,
		format: format,
		frames: make(chan audio.AudioFrame, 50),
		done:   make(chan struct{}),
	}
	in.wg.Add(1)
	go in.captureLoop(ctx)
	return in, nil
}

// Play implements audio.Playback. pcm is mono 16-bit at format.SampleRate and
// is resampled to the device rate.
func (d *Device) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	framesPerBuffer := int(outputRate * frameDuration / time.Second)
	buf := make([]int16, framesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(0, 1, outputRate, framesPerBuffer, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output: %w", err)
	}
	defer stream.Stop()

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: outputRate, Channels: 1}}
	var pending []int16
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				if len(pending) > 0 {
					clear(buf)
					copy(buf, pending)
					return writeBuffer(stream)
				}
				return nil
			}
			frame := conv.Convert(audio.AudioFrame{Data: chunk, SampleRate: format.SampleRate, Channels: 1})
			pending = append(pending, audio.BytesToInt16(frame.Data)...)
			for len(pending) >= len(buf) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				copy(buf, pending[:len(buf)])
				pending = pending[len(buf):]
				if err := writeBuffer(stream); err != nil {
					return err
				}
			}
		}
	}
}

func writeBuffer(stream *portaudio.Stream) error {
	if err := stream.Write(); err != nil {
		if err == portaudio.OutputUnderflowed {
			return nil
		}
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}

// inputStream is an open microphone stream.
type inputStream struct {
	stream *portaudio.Stream
	buf    []int16
	format audio.Format
	frames chan audio.AudioFrame

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *inputStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *inputStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop input: %w", stopErr)
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close input: %w", closeErr)
		}
	})
	return err
}

func (s *inputStream) captureLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	start := time.Now()
	dropped := 0
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				continue
			}
			slog.Warn("portaudio: read input", "err", err)
			return
		}

		frame := audio.AudioFrame{
			Data:       audio.Int16ToBytes(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case s.frames <- frame:
		default:
			dropped++
			if dropped == 1 || dropped%100 == 0 {
				slog.Warn("portaudio: consumer too slow, dropping input frames", "dropped", dropped)
			}
		}
	}
}
