package transcript

import (
	"fmt"
	"io"
)

// Prefixes used by [Format].
const (
	ResponsePrefix = "🤖 "
	ErrorPrefix    = "❌ "
	InterimPrefix  = "… "
)

// Format renders a single entry as one line of plain text.
func Format(e Entry) string {
	switch e.Kind {
	case KindInterim:
		return InterimPrefix + e.Text
	case KindResponse:
		return ResponsePrefix + e.Text
	case KindError:
		return ErrorPrefix + e.Text
	default:
		return e.Text
	}
}

// Render writes entries to w, one per line, in order.
func Render(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, Format(e)); err != nil {
			return fmt.Errorf("transcript: render: %w", err)
		}
	}
	return nil
}
