package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer goroutine after its consumer gave up, e.g.
// a synthesis stream whose utterance was cancelled.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
