package voicecmd

import "testing"

func TestFilter_Check(t *testing.T) {
	t.Parallel()

	f := New([]Command{PauseCommand(nil)})

	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "exact phrase", text: "stop listening", want: true},
		{name: "case and punctuation", text: "Stop listening.", want: true},
		{name: "hyphenated", text: "stop-listening!", want: true},
		{name: "second default phrase", text: "Pause listening", want: true},
		{name: "recognition near miss", text: "stop listenin", want: true},
		{name: "unrelated command", text: "what time is it", want: false},
		{name: "unrelated short", text: "play some music", want: false},
		{name: "empty", text: "   ", want: false},
		{name: "punctuation only", text: "?!", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd, ok := f.Check(tt.text)
			if ok != tt.want {
				t.Fatalf("Check(%q) matched=%v, want %v", tt.text, ok, tt.want)
			}
			if ok && cmd.Action != ActionPause {
				t.Errorf("Check(%q) action=%v, want pause", tt.text, cmd.Action)
			}
		})
	}
}

func TestFilter_CustomPhrases(t *testing.T) {
	t.Parallel()

	f := New([]Command{PauseCommand([]string{"go to sleep"})})
	if _, ok := f.Check("Go to sleep"); !ok {
		t.Error("expected custom phrase to match")
	}
	if _, ok := f.Check("stop listening to me please"); ok {
		t.Error("default phrases must not apply when custom phrases are set")
	}
}

func TestFilter_NoCommands(t *testing.T) {
	t.Parallel()

	f := New(nil)
	if _, ok := f.Check("stop listening"); ok {
		t.Error("expected no match without commands")
	}
}

func TestWithThreshold(t *testing.T) {
	t.Parallel()

	f := New(nil, WithThreshold(0.95))
	if f.matcher.fuzzyThreshold != 0.95 {
		t.Errorf("fuzzyThreshold: want 0.95, got %v", f.matcher.fuzzyThreshold)
	}
	f = New(nil, WithThreshold(0))
	if f.matcher.fuzzyThreshold != defaultFuzzyThreshold {
		t.Errorf("zero threshold should keep default, got %v", f.matcher.fuzzyThreshold)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Stop  Listening.":  "stop listening",
		"  stop-listening ": "stop listening",
		"¿Qué?":             "qué",
		"":                  "",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatcher_ExactAndDisjoint(t *testing.T) {
	t.Parallel()

	m := newMatcher()
	if score, ok := m.match("stop listening", "stop listening"); !ok || score != 1 {
		t.Errorf("exact: score=%v ok=%v", score, ok)
	}
	if _, ok := m.match("", "stop listening"); ok {
		t.Error("empty utterance must not match")
	}
}
