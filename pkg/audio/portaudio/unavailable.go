//go:build !portaudio

package portaudio

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Device is a placeholder used when voxlink is built without the
// "portaudio" tag. Every operation fails with audio.ErrDeviceUnavailable.
type Device struct{}

// New reports that no audio backend was compiled in.
func New() (*Device, error) {
	return nil, fmt.Errorf("portaudio: built without the portaudio tag: %w", audio.ErrDeviceUnavailable)
}

// Close is a no-op.
func (d *Device) Close() error { return nil }

// Open implements audio.Capture.
func (d *Device) Open(context.Context, audio.Format) (audio.InputStream, error) {
	return nil, audio.ErrDeviceUnavailable
}

// Play implements audio.Playback.
func (d *Device) Play(context.Context, <-chan []byte, audio.Format) error {
	return audio.ErrDeviceUnavailable
}
