package evalcache

import (
	"container/list"
	"context"
	"sync"

	"github.com/park285/jstockfish-go/internal/chess/score"
)

const defaultMemorySize = 4096

// Memory is a size-bounded LRU cache.
type Memory struct {
	mu  sync.Mutex
	cap int
	ll  *list.List
	m   map[string]*list.Element
}

type memoryEntry struct {
	key string
	v   score.Vector
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultMemorySize
	}
	return &Memory{cap: capacity, ll: list.New(), m: make(map[string]*list.Element)}
}

func (c *Memory) Get(_ context.Context, key string) (score.Vector, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return score.Vector{}, false, nil
	}
	c.ll.MoveToFront(e)
	return e.Value.(*memoryEntry).v, true, nil
}

func (c *Memory) Put(_ context.Context, key string, v score.Vector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok {
		e.Value.(*memoryEntry).v = v
		c.ll.MoveToFront(e)
		return nil
	}
	c.m[key] = c.ll.PushFront(&memoryEntry{key: key, v: v})
	if c.ll.Len() > c.cap {
		if tail := c.ll.Back(); tail != nil {
			c.ll.Remove(tail)
			delete(c.m, tail.Value.(*memoryEntry).key)
		}
	}
	return nil
}

func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Memory) Close() error { return nil }
