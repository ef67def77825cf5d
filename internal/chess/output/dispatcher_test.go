package output

import (
	"bytes"
	"sync"
	"testing"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) OnOutput(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestDeliverPreservesOrderAndText(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(nil)
	d.SetListener(rec)

	in := []string{"info depth 1 score cp 20", "", "  padded  ", "bestmove e2e4 ponder e7e5"}
	for _, line := range in {
		d.Deliver(line)
	}
	got := rec.Lines()
	if len(got) != len(in) {
		t.Fatalf("expected %d lines, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], in[i])
		}
	}
}

func TestSetListenerReplacesPrevious(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	d := NewDispatcher(nil)

	d.SetListener(a)
	d.Deliver("one")
	d.SetListener(b)
	d.Deliver("two")

	if got := a.Lines(); len(got) != 1 || got[0] != "one" {
		t.Fatalf("listener A got %v", got)
	}
	if got := b.Lines(); len(got) != 1 || got[0] != "two" {
		t.Fatalf("listener B got %v", got)
	}
	if d.Listener() != Listener(b) {
		t.Fatalf("Listener should return B")
	}
}

func TestNilListenerRestoresFallback(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(WriterListener(&buf))
	rec := &recorder{}

	d.Deliver("before")
	d.SetListener(rec)
	d.Deliver("during")
	d.SetListener(nil)
	d.Deliver("after")

	if buf.String() != "before\nafter\n" {
		t.Fatalf("fallback got %q", buf.String())
	}
	if got := rec.Lines(); len(got) != 1 || got[0] != "during" {
		t.Fatalf("listener got %v", got)
	}
}

func TestListenerFunc(t *testing.T) {
	var got string
	d := NewDispatcher(nil)
	d.SetListener(ListenerFunc(func(line string) { got = line }))
	d.Deliver("readyok")
	if got != "readyok" {
		t.Fatalf("got %q", got)
	}
}

func TestConcurrentSetAndDeliver(t *testing.T) {
	d := NewDispatcher(ListenerFunc(func(string) {}))
	a, b := &recorder{}, &recorder{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.Deliver("x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				d.SetListener(a)
			} else {
				d.SetListener(b)
			}
		}
	}()
	wg.Wait()

	if n := len(a.Lines()) + len(b.Lines()); n > 200 {
		t.Fatalf("lines duplicated: %d", n)
	}
}
