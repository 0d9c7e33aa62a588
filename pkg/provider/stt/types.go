package stt

import "time"

// Transcript is one recognition result for a segment of speech. Interim and
// final results share this type.
type Transcript struct {
	// Text is the best hypothesis for the segment. It equals
	// Alternatives[0].Text when Alternatives is non-empty.
	Text string

	// IsFinal reports whether the engine has committed to this segment.
	IsFinal bool

	// Confidence of the best hypothesis (0.0–1.0). Zero when unreported.
	Confidence float64

	// Alternatives holds the ranked hypotheses, best first.
	Alternatives []Alternative

	// Words contains per-word detail for the best hypothesis when available.
	Words []WordDetail

	// Start marks where the segment begins, relative to session start.
	Start time.Duration

	// Duration is the length of the segment.
	Duration time.Duration
}

// Alternative is a single ranked recognition hypothesis.
type Alternative struct {
	Text       string
	Confidence float64
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Texts returns the hypothesis strings of t, best first. When the provider
// reported no alternatives, the result holds t.Text alone.
func (t Transcript) Texts() []string {
	if len(t.Alternatives) == 0 {
		return []string{t.Text}
	}
	out := make([]string, len(t.Alternatives))
	for i, a := range t.Alternatives {
		out[i] = a.Text
	}
	return out
}
