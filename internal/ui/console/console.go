// Package console is the terminal surface of voxlink: it prints the status
// line, the recording indicator, the last command and the transcript, and
// turns lines typed on stdin into controller commands.
//
// On a terminal the live interim transcript is redrawn in place; on any
// other writer each interim update is printed as its own line.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/MrWong99/voxlink/internal/transcript"
)

const clearLine = "\r\033[K"

// Controls is the part of the controller the console drives.
type Controls interface {
	Start()
	Stop()
	Toggle()
}

// Console writes UI updates to an io.Writer. It implements the controller's
// UI interface and can observe a transcript log. Safe for concurrent use.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	live      bool // redraw interim entries in place
	drawn     bool // an interim is on the current line
	recording bool
	status    string
}

// New returns a Console writing to w.
func New(w io.Writer) *Console {
	c := &Console{w: w}
	if f, ok := w.(*os.File); ok {
		c.live = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return c
}

// SetStatus prints the status line when it changed.
func (c *Console) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status == c.status {
		return
	}
	c.status = status
	c.printf("%s %s\n", c.indicator(), status)
}

// SetRecording updates the recording indicator shown with the status.
func (c *Console) SetRecording(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on == c.recording {
		return
	}
	c.recording = on
	if on {
		c.printf("%s recording\n", c.indicator())
	}
}

// SetLastCommand prints the command that was just submitted.
func (c *Console) SetLastCommand(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("> %s\n", text)
}

// Observe renders transcript changes. Pass it to transcript.WithObserver.
func (c *Console) Observe(change transcript.Change, e transcript.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case e.Kind == transcript.KindInterim && change != transcript.Removed:
		if c.live {
			fmt.Fprint(c.w, clearLine+transcript.Format(e))
			c.drawn = true
			return
		}
		c.printf("%s\n", transcript.Format(e))
	case change == transcript.Removed:
		if c.drawn {
			fmt.Fprint(c.w, clearLine)
			c.drawn = false
		}
	case e.Kind == transcript.KindFinal:
		// Shown by SetLastCommand.
	default:
		c.printf("%s\n", transcript.Format(e))
	}
}

// printf writes a full line, first clearing a drawn interim. c.mu must be
// held.
func (c *Console) printf(format string, args ...any) {
	if c.drawn {
		fmt.Fprint(c.w, clearLine)
		c.drawn = false
	}
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) indicator() string {
	if c.recording {
		return "●"
	}
	return "○"
}

// ReadControls reads commands from r, one per line, until ctx is done, r
// reaches EOF or the user quits:
//
//	(empty line)  toggle listening
//	start, stop   start or stop listening
//	quit, exit    call quit and return
//
// Unknown input is reported on the console. Reads from r cannot be
// interrupted, so the reading goroutine outlives a cancelled ctx until the
// next line arrives.
func (c *Console) ReadControls(ctx context.Context, r io.Reader, ctl Controls, quit func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil {
				return fmt.Errorf("console: read controls: %w", err)
			}
			return nil
		case line := <-lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				ctl.Toggle()
			case "start":
				ctl.Start()
			case "stop":
				ctl.Stop()
			case "quit", "exit":
				quit()
				return nil
			default:
				c.mu.Lock()
				c.printf("unknown command %q (Enter toggles, quit exits)\n", line)
				c.mu.Unlock()
			}
		}
	}
}
