// Package actor resolves actor IDs to names and roles.
//
// Lookups go through a bounded LRU cache whose entries expire after a TTL,
// so a role change in the backing store takes effect within one TTL.
package actor

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
)

// ErrUnknownActor is returned when the backing store has no such actor.
var ErrUnknownActor = errors.New("unknown actor")

const (
	DefaultSize = 512
	DefaultTTL  = 5 * time.Minute
)

// Source looks actors up in the backing store.
type Source interface {
	LookupActor(ctx context.Context, id string) (audit.Actor, error)
}

// Resolver turns an actor ID into an actor.
type Resolver interface {
	Resolve(ctx context.Context, id string) (audit.Actor, error)
}

// Recorder receives cache lookup outcomes for metrics.
type Recorder interface {
	ActorLookup(result string)
}

type nopRecorder struct{}

func (nopRecorder) ActorLookup(string) {}

type entry struct {
	id      string
	actor   audit.Actor
	expires time.Time
}

// Cache is a Resolver backed by a Source. All state sits behind one mutex;
// the Source call itself runs outside the lock.
type Cache struct {
	src      Source
	size     int
	ttl      time.Duration
	now      func() time.Time
	recorder Recorder

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithRecorder reports hits and misses.
func WithRecorder(r Recorder) Option { return func(c *Cache) { c.recorder = r } }

// NewCache creates a cache holding at most size actors for ttl each.
func NewCache(src Source, size int, ttl time.Duration, opts ...Option) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		src:      src,
		size:     size,
		ttl:      ttl,
		now:      time.Now,
		recorder: nopRecorder{},
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the cached actor, loading it from the source on a miss or
// after expiry. Lookup failures are not cached.
func (c *Cache) Resolve(ctx context.Context, id string) (audit.Actor, error) {
	if id == "" {
		return audit.Actor{}, fmt.Errorf("%w: empty id", ErrUnknownActor)
	}
	if a, ok := c.get(id); ok {
		c.recorder.ActorLookup("hit")
		return a, nil
	}
	c.recorder.ActorLookup("miss")

	a, err := c.src.LookupActor(ctx, id)
	if err != nil {
		return audit.Actor{}, err
	}
	c.put(a)
	return a, nil
}

// Invalidate drops id from the cache.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.ll.Remove(el)
		delete(c.items, id)
	}
}

// Len returns the number of cached actors, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) get(id string) (audit.Actor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return audit.Actor{}, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expires) {
		c.ll.Remove(el)
		delete(c.items, id)
		return audit.Actor{}, false
	}
	c.ll.MoveToFront(el)
	return e.actor, true
}

func (c *Cache) put(a audit.Actor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[a.ID]; ok {
		e := el.Value.(*entry)
		e.actor = a
		e.expires = expires
		c.ll.MoveToFront(el)
		return
	}
	c.items[a.ID] = c.ll.PushFront(&entry{id: a.ID, actor: a, expires: expires})
	for c.ll.Len() > c.size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).id)
	}
}

// Static is a Source over a fixed set of actors.
type Static map[string]audit.Actor

// LookupActor implements Source.
func (s Static) LookupActor(_ context.Context, id string) (audit.Actor, error) {
	a, ok := s[id]
	if !ok {
		return audit.Actor{}, fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	return a, nil
}
