// Package mock provides in-memory implementations of [audio.Capture] and
// [audio.Playback] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and expose exported fields that
// the test can set to control behaviour.
//
// Typical usage:
//
//	mic := &mock.Capture{}
//	in, _ := mic.Open(ctx, audio.Format{SampleRate: 16000, Channels: 1})
//	mic.LastStream().Push([]byte{0, 0})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenFormats records the format requested by each Open call.
	OpenFormats []audio.Format

	streams []*InputStream
}

// Open records the call and returns a new [InputStream], or OpenErr.
func (c *Capture) Open(_ context.Context, format audio.Format) (audio.InputStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenFormats = append(c.OpenFormats, format)
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	s := &InputStream{format: format, frames: make(chan audio.AudioFrame, 64)}
	c.streams = append(c.streams, s)
	return s, nil
}

// SetOpenErr replaces OpenErr. Thread-safe.
func (c *Capture) SetOpenErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenErr = err
}

// OpenCount returns the number of Open calls. Thread-safe.
func (c *Capture) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.OpenFormats)
}

// LastStream returns the most recently opened stream, or nil.
func (c *Capture) LastStream() *InputStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

var _ audio.Capture = (*Capture)(nil)

// InputStream is a mock [audio.InputStream]. Push delivers frames; Close ends
// the stream.
type InputStream struct {
	mu         sync.Mutex
	format     audio.Format
	frames     chan audio.AudioFrame
	closed     bool
	closeCalls int
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.AudioFrame { return s.frames }

// Push delivers pcm as a frame in the stream's format. No-op after Close.
func (s *InputStream) Push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- audio.AudioFrame{Data: pcm, SampleRate: s.format.SampleRate, Channels: s.format.Channels}
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ audio.InputStream = (*InputStream)(nil)

// ─── Playback ────────────────────────────────────────────────────────────────

// Playback is a mock implementation of [audio.Playback]. It drains every
// stream handed to Play and records the bytes.
type Playback struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after draining.
	PlayErr error

	// Formats records the format of each Play call.
	Formats []audio.Format

	// Played holds the concatenated bytes of each Play call, in call order.
	Played [][]byte

	// Interrupted counts Play calls that returned because ctx was cancelled.
	Interrupted int
}

// Play implements [audio.Playback].
func (p *Playback) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	p.mu.Lock()
	idx := len(p.Played)
	p.Formats = append(p.Formats, format)
	p.Played = append(p.Played, nil)
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.Interrupted++
			p.mu.Unlock()
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				p.mu.Lock()
				defer p.mu.Unlock()
				return p.PlayErr
			}
			p.mu.Lock()
			p.Played[idx] = append(p.Played[idx], chunk...)
			p.mu.Unlock()
		}
	}
}

// PlayCount returns the number of Play calls. Thread-safe.
func (p *Playback) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// InterruptedCount returns Interrupted. Thread-safe.
func (p *Playback) InterruptedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Interrupted
}

// PlayedBytes returns a copy of the bytes of the i-th Play call.
func (p *Playback) PlayedBytes(i int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Played) {
		return nil
	}
	return append([]byte(nil), p.Played[i]...)
}

var _ audio.Playback = (*Playback)(nil)
