// Package audio defines the device-facing audio abstractions used by voxlink.
//
// The two primary abstractions are:
//
//   - [Capture] opens a microphone and yields an [InputStream] of PCM frames.
//   - [Playback] plays a stream of PCM chunks through the speaker.
//
// All PCM in this package is 16-bit little-endian signed integer. Device
// adapters live in sub-packages (audio/portaudio); audio/mock provides
// in-memory doubles for tests.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned (wrapped) when an audio device cannot be
// opened, e.g. because no device exists or access was denied.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// InputStream is an open capture stream.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Frames returns the channel of captured frames. It is closed when the
	// stream is closed or the device fails.
	Frames() <-chan AudioFrame

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Capture opens microphone streams.
type Capture interface {
	// Open starts capturing in the requested format. The stream lives until
	// Close is called or ctx is cancelled.
	Open(ctx context.Context, format Format) (InputStream, error)
}

// Playback plays synthesised speech.
type Playback interface {
	// Play writes every chunk received on pcm to the output device and
	// returns once pcm is closed and the audio has been handed to the device,
	// or when ctx is cancelled. Chunks are in the given format.
	Play(ctx context.Context, pcm <-chan []byte, format Format) error
}
