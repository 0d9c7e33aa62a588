package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/internal/transcript"
)

type fakeControls struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeControls) Start()  { f.add("start") }
func (f *fakeControls) Stop()   { f.add("stop") }
func (f *fakeControls) Toggle() { f.add("toggle") }

func (f *fakeControls) add(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeControls) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestConsole_StatusAndRecording(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := New(&buf)

	c.SetStatus("Press Enter to start speaking")
	c.SetStatus("Press Enter to start speaking")
	c.SetRecording(true)
	c.SetStatus("Listening...")
	c.SetRecording(false)
	c.SetStatus("Processing...")

	want := "○ Press Enter to start speaking\n" +
		"● recording\n" +
		"● Listening...\n" +
		"○ Processing...\n"
	if got := buf.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}

func TestConsole_TranscriptLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := New(&buf)
	log := transcript.New(transcript.WithObserver(c.Observe))

	log.AppendInterim("what")
	log.AppendInterim("what time")
	log.CommitFinal("what time is it")
	c.SetLastCommand("what time is it")
	log.AppendSystem("It is noon.", false)
	log.AppendSystem("HTTP error! status: 500", true)

	want := transcript.InterimPrefix + "what\n" +
		transcript.InterimPrefix + "what time\n" +
		"> what time is it\n" +
		transcript.ResponsePrefix + "It is noon.\n" +
		transcript.ErrorPrefix + "HTTP error! status: 500\n"
	if got := buf.String(); got != want {
		t.Errorf("output:\n%q\nwant:\n%q", got, want)
	}
}

func TestConsole_LiveInterimRedraw(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := New(&buf)
	c.live = true
	log := transcript.New(transcript.WithObserver(c.Observe))

	log.AppendInterim("turn")
	log.AppendInterim("turn on")
	c.SetStatus("Listening...")
	log.DiscardInterim()

	want := clearLine + transcript.InterimPrefix + "turn" +
		clearLine + transcript.InterimPrefix + "turn on" +
		clearLine + "○ Listening...\n"
	if got := buf.String(); got != want {
		t.Errorf("output:\n%q\nwant:\n%q", got, want)
	}
}

func TestReadControls(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := New(&buf)
	ctl := &fakeControls{}
	quit := false

	in := strings.NewReader("\nSTART\n stop \nhello\n\nquit\n\n")
	if err := c.ReadControls(context.Background(), in, ctl, func() { quit = true }); err != nil {
		t.Fatalf("ReadControls: %v", err)
	}

	want := []string{"toggle", "start", "stop", "toggle"}
	if got := ctl.list(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if !quit {
		t.Error("quit not called")
	}
	if !strings.Contains(buf.String(), `unknown command "hello"`) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReadControls_EOF(t *testing.T) {
	t.Parallel()
	ctl := &fakeControls{}
	err := New(io.Discard).ReadControls(context.Background(), strings.NewReader("\n"), ctl, func() {
		t.Error("quit called on EOF")
	})
	if err != nil {
		t.Fatalf("ReadControls: %v", err)
	}
	if got := ctl.list(); len(got) != 1 || got[0] != "toggle" {
		t.Errorf("calls = %v", got)
	}
}

func TestReadControls_Cancel(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(io.Discard).ReadControls(ctx, pr, &fakeControls{}, func() {}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ReadControls = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadControls did not return after cancel")
	}
}
