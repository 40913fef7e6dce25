package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
)

// Token turns OS signals into stage cancellation and snapshot requests.
//
// An interrupt cancels the stage context that is currently active, so the
// caller can finalize partial results. With no active stage it exits.
// SIGHUP only raises a flag that the main loop polls between steps.
type Token struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	snapshot atomic.Bool
	sigChan  chan os.Signal
	done     chan struct{}
	exit     func(code int)
}

// NewToken creates a token that is not connected to OS signals
func NewToken() *Token {
	return &Token{exit: os.Exit, done: make(chan struct{})}
}

// SetupHandler configures signal handling and returns the token it drives
func SetupHandler() *Token {
	token := NewToken()

	// Create a channel to receive OS signals
	token.sigChan = make(chan os.Signal, 1)
	signal.Notify(token.sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Handle signals in a separate goroutine
	go func() {
		for {
			select {
			case <-token.done:
				return
			case sig := <-token.sigChan:
				switch sig {
				case syscall.SIGHUP:
					token.RequestSnapshot()
				case syscall.SIGINT, syscall.SIGTERM:
					token.Interrupt()
				}
			}
		}
	}()

	return token
}

// SetExitFunc replaces the function called when an interrupt arrives outside a stage
func (t *Token) SetExitFunc(exit func(code int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exit = exit
}

// StageContext derives a context that the next interrupt cancels
func (t *Token) StageContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
		cancel()
	}
}

// Interrupt cancels the active stage, or exits when there is none
func (t *Token) Interrupt() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	exit := t.exit
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	exit(130)
}

// RequestSnapshot asks the running stage to render its current state
func (t *Token) RequestSnapshot() {
	t.snapshot.Store(true)
}

// SnapshotRequested reports and clears a pending snapshot request
func (t *Token) SnapshotRequested() bool {
	return t.snapshot.CompareAndSwap(true, false)
}

// Stop detaches the token from OS signals
func (t *Token) Stop() {
	if t.sigChan != nil {
		signal.Stop(t.sigChan)
	}
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// GetOptimalProcs returns the optimal number of worker goroutines for the system
func GetOptimalProcs() int {
	// Get the number of CPUs available
	numCPU := runtime.NumCPU()

	// OpenCV parallelizes internally, so leave headroom
	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}

// WorkerCount resolves a configured worker count, where 0 means automatic
func WorkerCount(configured int) int {
	if configured > 0 {
		return configured
	}
	return GetOptimalProcs()
}
