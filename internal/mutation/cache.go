package mutation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrSettled is returned when a handle is used after its mutation settled.
var ErrSettled = errors.New("mutation already settled")

// CacheOptions configures a Cache.
type CacheOptions struct {
	Clock func() time.Time
	// GCTime is how long settled mutations stay visible before Prune drops them.
	GCTime time.Duration
	// NewBackOff builds the delay schedule used by Run. Defaults to exponential.
	NewBackOff func() backoff.BackOff
}

// Cache is an in-memory mutation runtime.
type Cache struct {
	mu         sync.Mutex
	opts       CacheOptions
	nextID     int64
	lastSubmit time.Time
	mutations  map[int64]*Mutation

	listenersMu  sync.Mutex
	listeners    map[int]func()
	nextListener int
}

// NewCache creates an empty runtime.
func NewCache(opts CacheOptions) *Cache {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.GCTime <= 0 {
		opts.GCTime = 5 * time.Minute
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return &Cache{
		opts:      opts,
		mutations: make(map[int64]*Mutation),
		listeners: make(map[int]func()),
	}
}

// Handle drives one submitted mutation through its lifecycle.
type Handle struct {
	cache *Cache
	id    int64
}

// ID returns the runtime id of the mutation.
func (h *Handle) ID() int64 { return h.id }

// Submit registers a new pending mutation. Submission times are unique within
// the cache: a collision is bumped forward by one millisecond.
func (c *Cache) Submit(key Key, vars any, meta *Meta, policy RetryPolicy) *Handle {
	c.mu.Lock()
	now := c.opts.Clock().Truncate(time.Millisecond)
	if !now.After(c.lastSubmit) {
		now = c.lastSubmit.Add(time.Millisecond)
	}
	c.lastSubmit = now
	c.nextID++
	m := &Mutation{
		ID:          c.nextID,
		Key:         append(Key(nil), key...),
		Status:      StatusPending,
		SubmittedAt: now,
		Retry:       policy,
		Variables:   vars,
		Meta:        meta,
	}
	c.mutations[m.ID] = m
	c.mu.Unlock()

	c.notify()
	return &Handle{cache: c, id: m.ID}
}

// Fail records one failed attempt. The mutation stays pending while retries
// remain and settles as an error once they are exhausted. It reports whether
// another attempt is expected.
func (h *Handle) Fail(err error) bool {
	c := h.cache
	c.mu.Lock()
	m, ok := c.mutations[h.id]
	if !ok || m.Status != StatusPending {
		c.mu.Unlock()
		return false
	}
	m.FailureCount++
	m.Err = err
	retry := m.FailureCount <= m.Retry.MaxRetries()
	if !retry {
		c.settle(m, StatusError)
	}
	c.mu.Unlock()

	c.notify()
	return retry
}

// Succeed settles the mutation with its server result.
func (h *Handle) Succeed(result any) error {
	c := h.cache
	c.mu.Lock()
	m, ok := c.mutations[h.id]
	if !ok || m.Status != StatusPending {
		c.mu.Unlock()
		return ErrSettled
	}
	m.Result = result
	m.Err = nil
	c.settle(m, StatusSuccess)
	c.mu.Unlock()

	c.notify()
	return nil
}

// abort settles a still-pending mutation as an error without counting an attempt.
func (h *Handle) abort(err error) {
	c := h.cache
	c.mu.Lock()
	m, ok := c.mutations[h.id]
	if !ok || m.Status != StatusPending {
		c.mu.Unlock()
		return
	}
	m.Err = err
	c.settle(m, StatusError)
	c.mu.Unlock()

	c.notify()
}

func (c *Cache) settle(m *Mutation, status Status) {
	now := c.opts.Clock()
	m.Status = status
	m.SettledAt = &now
}

// Run submits a mutation and executes fn until it succeeds or the policy's
// retries are exhausted, waiting between attempts per the cache backoff.
func (c *Cache) Run(ctx context.Context, key Key, vars any, meta *Meta, policy RetryPolicy, fn func(context.Context) (any, error)) (any, error) {
	h := c.Submit(key, vars, meta, policy)

	op := func() (any, error) {
		result, err := fn(ctx)
		if err != nil {
			if !h.Fail(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.opts.NewBackOff()),
		backoff.WithMaxTries(uint(policy.MaxRetries()+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		h.abort(err)
		return nil, err
	}
	if serr := h.Succeed(result); serr != nil {
		return nil, serr
	}
	return result, nil
}

// Snapshot returns copies of all tracked mutations in submission order.
func (c *Cache) Snapshot() []Mutation {
	c.mu.Lock()
	out := make([]Mutation, 0, len(c.mutations))
	for _, m := range c.mutations {
		out = append(out, *m)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prune drops settled mutations older than GCTime and returns how many went.
func (c *Cache) Prune() int {
	now := c.opts.Clock()
	c.mu.Lock()
	removed := 0
	for id, m := range c.mutations {
		if m.SettledAt != nil && now.Sub(*m.SettledAt) >= c.opts.GCTime {
			delete(c.mutations, id)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.notify()
	}
	return removed
}

// Subscribe implements Runtime.
func (c *Cache) Subscribe(fn func()) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Cache) notify() {
	c.listenersMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
