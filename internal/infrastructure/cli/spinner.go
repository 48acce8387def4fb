package cli

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const spinnerInterval = 100 * time.Millisecond

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Spinner animates a status label while the orchestrator waits on the AI.
// Start on a running spinner swaps the label and resets the elapsed clock.
type Spinner struct {
	writer io.Writer

	mu      sync.Mutex
	label   string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a new spinner
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{writer: w}
}

// Start shows label with an elapsed-seconds counter.
func (s *Spinner) Start(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
	s.started = time.Now()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

// Stop clears the line and blocks until the animation goroutine exits.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		s.mu.Lock()
		label, elapsed := s.label, time.Since(s.started)
		s.mu.Unlock()
		fmt.Fprintf(s.writer, "\r%s %s (%ds)", spinnerFrames[frame%len(spinnerFrames)], label, int(elapsed.Seconds()))

		select {
		case <-stop:
			fmt.Fprint(s.writer, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}
