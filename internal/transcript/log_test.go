package transcript_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/voxlink/internal/transcript"
)

func kinds(entries []transcript.Entry) []transcript.Kind {
	out := make([]transcript.Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func TestAppendInterim_ReplacesInPlace(t *testing.T) {
	t.Parallel()

	l := transcript.New()
	first := l.AppendInterim("what")
	second := l.AppendInterim("what time")

	if first.Seq != second.Seq {
		t.Errorf("replaced interim changed seq: %d -> %d", first.Seq, second.Seq)
	}
	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "what time" || entries[0].Kind != transcript.KindInterim {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestCommitFinal_RemovesInterim(t *testing.T) {
	t.Parallel()

	l := transcript.New()
	l.AppendInterim("what ti")
	l.CommitFinal("what time is it")

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].Kind != transcript.KindFinal || entries[0].Text != "what time is it" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if _, ok := l.Live(); ok {
		t.Error("expected no live interim after commit")
	}
}

func TestLog_TurnOrdering(t *testing.T) {
	t.Parallel()

	l := transcript.New()
	l.AppendInterim("what")
	l.CommitFinal("what time is it")
	l.AppendSystem("It is noon.", false)
	l.AppendInterim("and the")
	l.CommitFinal("and the weather")
	l.AppendSystem("HTTP error! status: 503", true)

	want := []transcript.Kind{
		transcript.KindFinal, transcript.KindResponse,
		transcript.KindFinal, transcript.KindError,
	}
	got := kinds(l.Entries())
	if len(got) != len(want) {
		t.Fatalf("got kinds %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %v, want %v", i, got[i], want[i])
		}
	}

	var prev uint64
	for _, e := range l.Entries() {
		if e.Seq <= prev {
			t.Errorf("seq not increasing: %d after %d", e.Seq, prev)
		}
		prev = e.Seq
	}
}

func TestLog_InterimReplacementKeepsPosition(t *testing.T) {
	t.Parallel()

	l := transcript.New()
	l.CommitFinal("hello")
	l.AppendSystem("hi", false)
	l.AppendInterim("a")
	l.AppendInterim("ab")

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].Kind != transcript.KindInterim || entries[2].Text != "ab" {
		t.Errorf("unexpected tail: %+v", entries[2])
	}
	if entries[0].Text != "hello" || entries[1].Text != "hi" {
		t.Errorf("earlier entries changed: %+v", entries[:2])
	}
}

func TestDiscardInterim(t *testing.T) {
	t.Parallel()

	l := transcript.New()
	if l.DiscardInterim() {
		t.Error("expected false with no live interim")
	}
	l.AppendInterim("noise")
	if !l.DiscardInterim() {
		t.Error("expected true with a live interim")
	}
	if l.Len() != 0 {
		t.Errorf("expected empty log, got %d", l.Len())
	}
}

func TestObserver_SeesEveryChange(t *testing.T) {
	t.Parallel()

	type change struct {
		c    transcript.Change
		kind transcript.Kind
		text string
	}
	var got []change
	l := transcript.New(transcript.WithObserver(func(c transcript.Change, e transcript.Entry) {
		got = append(got, change{c, e.Kind, e.Text})
	}))

	l.AppendInterim("wh")
	l.AppendInterim("what")
	l.CommitFinal("what")
	l.AppendSystem("ok", false)

	want := []change{
		{transcript.Appended, transcript.KindInterim, "wh"},
		{transcript.Replaced, transcript.KindInterim, "what"},
		{transcript.Removed, transcript.KindInterim, "what"},
		{transcript.Appended, transcript.KindFinal, "what"},
		{transcript.Appended, transcript.KindResponse, "ok"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d changes, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	l := transcript.New()
	l.CommitFinal("what time is it")
	l.AppendSystem("It is noon.", false)
	l.AppendSystem("Error processing command. Please try again.", true)
	l.AppendInterim("and")

	var buf bytes.Buffer
	if err := transcript.Render(&buf, l.Entries()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "what time is it\n" +
		"🤖 It is noon.\n" +
		"❌ Error processing command. Please try again.\n" +
		"… and\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
