// Package core - Spinner animates the wait while the scheduling core is
// busy — recovering a project from its event log, or running a CPM pass
// over a large task set — and resolves to a pass/fail line when the work
// lands.
package core

import (
	"fmt"
	"sync"
	"time"
)

// spinnerFrames is the glyph cycle shown while a computation is in
// flight. A quarter-turn per frame reads as steady progress at the
// ~8 Hz redraw rate below without strobing.
var spinnerFrames = []string{"◐", "◓", "◑", "◒"}

const spinnerRedrawInterval = 120 * time.Millisecond

// Spinner is a single-line terminal progress indicator. Silent mode
// (the silent argument to NewSpinner; the CLI passes core.IsSilent())
// suppresses all output, so callers can wrap any computation
// unconditionally.
type Spinner struct {
	mu      sync.Mutex
	msg     string
	silent  bool
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSpinner builds a spinner labeled with msg; nothing is printed
// until Start.
func NewSpinner(msg string, silent bool) *Spinner {
	return &Spinner{
		msg:    msg,
		silent: silent,
		done:   make(chan struct{}),
	}
}

// Start begins redrawing the spinner line. Calling Start on a running
// or silent spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.silent || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(spinnerRedrawInterval)
		defer ticker.Stop()

		frame := 0
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.redraw(frame)
				frame++
			}
		}
	}()
}

// redraw repaints the spinner line in place; \033[K clears whatever a
// longer previous message left behind.
func (s *Spinner) redraw(frame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	glyph := spinnerFrames[frame%len(spinnerFrames)]
	fmt.Printf("\r%s %s %s\033[K", Info(glyph), s.msg, DimText("..."))
}

// Stop halts the animation and replaces the spinner line with a final
// status: success for a converged computation, failure for one that
// ended with a warning (a diverged CPM pass, a persistence error).
func (s *Spinner) Stop(success bool) {
	s.mu.Lock()
	if s.silent || !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	fmt.Print("\r\033[K")
	if success {
		fmt.Printf("%s %s\n", Success("✅"), s.msg)
	} else {
		fmt.Printf("%s %s\n", Error("❌"), s.msg)
	}
}

// UpdateMessage relabels the spinner mid-flight, e.g. when recovery
// hands off to the first CPM pass.
func (s *Spinner) UpdateMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msg = msg
}
