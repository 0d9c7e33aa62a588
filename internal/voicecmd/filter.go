// Package voicecmd recognises local control phrases in final transcripts so
// that the client can act on them without a round-trip to the command
// processor. Saying "stop listening", for instance, pauses automatic
// re-arming exactly like the stop control.
//
// Matching is tolerant of recognition noise: an utterance matches a phrase
// when it is phonetically aligned with it word by word (Double Metaphone),
// or when the two strings are close under Jaro-Winkler similarity.
package voicecmd

import (
	"log/slog"
	"strings"
	"unicode"
)

// Action is what the client does when a command is recognised.
type Action int

const (
	// ActionPause ends the turn locally and suppresses re-arming.
	ActionPause Action = iota + 1
)

// String returns the lowercase name of the action.
func (a Action) String() string {
	switch a {
	case ActionPause:
		return "pause"
	default:
		return "unknown"
	}
}

// Command pairs trigger phrases with an action.
type Command struct {
	// Name is a human-readable label for logging.
	Name string

	// Action is performed when any phrase matches.
	Action Action

	// Phrases are the utterances that trigger the command.
	Phrases []string
}

// DefaultPausePhrases are used when no pause phrases are configured.
var DefaultPausePhrases = []string{"stop listening", "pause listening"}

// PauseCommand returns the pause command for phrases, falling back to
// DefaultPausePhrases when phrases is empty.
func PauseCommand(phrases []string) Command {
	if len(phrases) == 0 {
		phrases = DefaultPausePhrases
	}
	return Command{Name: "pause", Action: ActionPause, Phrases: phrases}
}

// Option is a functional option for configuring a [Filter].
type Option func(*Filter)

// WithThreshold sets the minimum Jaro-Winkler similarity for a match that is
// not phonetically aligned. Default: 0.88.
func WithThreshold(threshold float64) Option {
	return func(f *Filter) {
		if threshold > 0 {
			f.matcher.fuzzyThreshold = threshold
		}
	}
}

// Filter checks final transcripts against a set of commands.
//
// A Filter is read-only after construction and safe for concurrent use.
type Filter struct {
	commands []Command
	matcher  *matcher
}

// New creates a Filter for commands.
func New(commands []Command, opts ...Option) *Filter {
	f := &Filter{
		commands: commands,
		matcher:  newMatcher(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Check reports the command text triggers, if any. Empty text never matches.
func (f *Filter) Check(text string) (Command, bool) {
	norm := normalize(text)
	if norm == "" {
		return Command{}, false
	}
	for _, cmd := range f.commands {
		for _, phrase := range cmd.Phrases {
			score, ok := f.matcher.match(norm, normalize(phrase))
			if !ok {
				continue
			}
			slog.Info("voicecmd: command recognised",
				"command", cmd.Name,
				"phrase", phrase,
				"text", text,
				"score", score,
			)
			return cmd, true
		}
	}
	return Command{}, false
}

// normalize lowercases s, strips punctuation and collapses whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), r == '-':
			return ' '
		default:
			return -1
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
