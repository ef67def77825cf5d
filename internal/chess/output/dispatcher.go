package output

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Listener receives engine output, one line per call.
type Listener interface {
	OnOutput(line string)
}

type ListenerFunc func(line string)

func (f ListenerFunc) OnOutput(line string) { f(line) }

// WriterListener writes each line plus a newline to w.
func WriterListener(w io.Writer) Listener {
	return ListenerFunc(func(line string) { fmt.Fprintln(w, line) })
}

// Default writes to standard error.
var Default Listener = WriterListener(os.Stderr)

// Dispatcher forwards lines to exactly one listener. Lines are delivered in
// the order Deliver is called, on the caller's goroutine.
type Dispatcher struct {
	mu       sync.RWMutex
	listener Listener
	fallback Listener
}

// NewDispatcher uses fallback when no listener is set; nil means Default.
func NewDispatcher(fallback Listener) *Dispatcher {
	if fallback == nil {
		fallback = Default
	}
	return &Dispatcher{listener: fallback, fallback: fallback}
}

// SetListener replaces the listener. Deliver calls made after it returns reach
// only l. A nil l restores the fallback.
func (d *Dispatcher) SetListener(l Listener) {
	if l == nil {
		l = d.fallback
	}
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *Dispatcher) Listener() Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.listener
}

func (d *Dispatcher) Deliver(line string) {
	d.mu.RLock()
	l := d.listener
	d.mu.RUnlock()
	l.OnOutput(line)
}
