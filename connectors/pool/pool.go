// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"sqlbridge/connectors/descriptor"
)

var (
	// ErrPoolExhausted is returned when no session slot frees up within the acquire wait
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned by Acquire after Close
	ErrPoolClosed = errors.New("connection pool closed")

	errAcquireWait = errors.New("acquire wait elapsed")
)

// Discard reasons reported to the Observer
const (
	ReasonUnhealthy = "unhealthy"
	ReasonEpoch     = "stale_epoch"
	ReasonExpired   = "expired"
	ReasonCleared   = "cleared"
	ReasonNotOpened = "not_opened"
)

// Observer receives pool lifecycle events
type Observer interface {
	SessionDiscarded(target, reason string)
	PoolCleared(target string)
}

type nopObserver struct{}

func (nopObserver) SessionDiscarded(string, string) {}
func (nopObserver) PoolCleared(string)              {}

// Config configures a single target's pool
type Config struct {
	Target         string
	Descriptor     descriptor.Normalized
	MaxSize        int
	MinSize        int // validated against MaxSize; sessions are opened on demand
	Lifetime       time.Duration
	AcquireTimeout time.Duration // 0 fails fast when at capacity
}

// ConfigFor builds a pool config from the tunables baked into d
func ConfigFor(target string, d descriptor.Normalized, acquireTimeout time.Duration) Config {
	opts := descriptor.Parse(d)
	return Config{
		Target:         target,
		Descriptor:     d,
		MaxSize:        opts.MaxPoolSize,
		MinSize:        opts.MinPoolSize,
		Lifetime:       opts.ConnectionLifetime,
		AcquireTimeout: acquireTimeout,
	}
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Target string `json:"target"`
	Idle   int    `json:"idle"`
	InUse  int    `json:"in_use"`
	Epoch  uint64 `json:"epoch"`
	Max    int    `json:"max"`
}

// Pool is the bounded set of sessions for one target.
// Invariant: inUse + len(idle) <= MaxSize.
type Pool struct {
	cfg      Config
	opener   Opener
	observer Observer
	slots    *semaphore.Weighted
	now      func() time.Time

	mu     sync.Mutex
	idle   []*Session // oldest first
	inUse  int
	epoch  uint64
	closed bool
}

// New creates a pool for one target
func New(cfg Config, opener Opener, observer Observer) (*Pool, error) {
	if opener == nil {
		return nil, fmt.Errorf("no session opener provided")
	}
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("invalid max pool size %d", cfg.MaxSize)
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("invalid min pool size %d for max pool size %d", cfg.MinSize, cfg.MaxSize)
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = descriptor.DefaultConnectionLifetime
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pool{
		cfg:      cfg,
		opener:   opener,
		observer: observer,
		slots:    semaphore.NewWeighted(int64(cfg.MaxSize)),
		now:      time.Now,
	}, nil
}

// Target returns the target name the pool serves
func (p *Pool) Target() string {
	return p.cfg.Target
}

// Descriptor returns the normalized descriptor the pool opens sessions with
func (p *Pool) Descriptor() descriptor.Normalized {
	return p.cfg.Descriptor
}

// Acquire hands out an InUse session. An idle session of the current epoch
// that has not outlived its lifetime is preferred; otherwise an unopened
// session is returned and the caller must Open it. When the pool is at
// capacity Acquire waits up to AcquireTimeout for a release.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if err := p.waitSlot(ctx); err != nil {
		return nil, err
	}

	var discard []*Session
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, ErrPoolClosed
	}

	discard = p.sweepLocked()

	// The slot reserved above guarantees inUse < MaxSize, so a new session
	// only has to be created when no usable idle session is left.
	var s *Session
	if n := len(p.idle); n > 0 {
		s = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	} else {
		s = &Session{
			ID:        uuid.NewString(),
			Target:    p.cfg.Target,
			CreatedAt: p.now(),
			epoch:     p.epoch,
		}
	}
	s.state = StateInUse
	p.inUse++
	p.mu.Unlock()

	for _, d := range discard {
		p.discard(d, ReasonExpired)
	}
	return s, nil
}

// Open establishes the driver connection for a session returned unopened by
// Acquire. The session stays InUse; on failure the caller releases it unhealthy.
func (p *Pool) Open(ctx context.Context, s *Session) error {
	if s.Opened() {
		return nil
	}
	conn, err := p.opener.Open(ctx, p.cfg.Descriptor)
	if err != nil {
		return err
	}
	s.conn = conn
	s.CreatedAt = p.now()
	return nil
}

// Release returns a session. Unhealthy, expired, or pre-clear sessions are
// closed instead of pooled.
func (p *Pool) Release(s *Session, healthy bool) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if s.state != StateInUse {
		p.mu.Unlock()
		return
	}
	p.inUse--

	reason := ""
	switch {
	case !healthy:
		reason = ReasonUnhealthy
	case p.closed:
		reason = ReasonCleared
	case s.epoch != p.epoch:
		reason = ReasonEpoch
	case !s.Opened():
		reason = ReasonNotOpened
	case p.now().Sub(s.CreatedAt) >= p.cfg.Lifetime:
		reason = ReasonExpired
	}

	if reason == "" {
		s.state = StateIdle
		p.idle = append(p.idle, s)
	} else {
		s.state = StateClosed
	}
	p.mu.Unlock()
	p.slots.Release(1)

	if reason != "" {
		p.discard(s, reason)
	}
}

// Clear closes every idle session and starts a new epoch. In-use sessions
// are discarded when they are released.
func (p *Pool) Clear() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.epoch++
	p.mu.Unlock()

	for _, s := range idle {
		p.discard(s, ReasonCleared)
	}
	p.observer.PoolCleared(p.cfg.Target)
}

// Close clears the pool and rejects further acquires
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
}

// Stats returns the current pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Target: p.cfg.Target,
		Idle:   len(p.idle),
		InUse:  p.inUse,
		Epoch:  p.epoch,
		Max:    p.cfg.MaxSize,
	}
}

// waitSlot reserves capacity for one in-use session, bounded by AcquireTimeout.
// Caller cancellation is returned as the caller's context error.
func (p *Pool) waitSlot(ctx context.Context) error {
	if p.slots.TryAcquire(1) {
		return nil
	}
	if p.cfg.AcquireTimeout <= 0 {
		return ErrPoolExhausted
	}

	waitCtx, cancel := context.WithTimeoutCause(ctx, p.cfg.AcquireTimeout, errAcquireWait)
	defer cancel()

	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPoolExhausted
	}
	return nil
}

// sweepLocked removes idle sessions past their lifetime
func (p *Pool) sweepLocked() []*Session {
	var expired []*Session
	kept := p.idle[:0]
	now := p.now()
	for _, s := range p.idle {
		if s.epoch != p.epoch || now.Sub(s.CreatedAt) >= p.cfg.Lifetime {
			s.state = StateClosed
			expired = append(expired, s)
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = kept
	return expired
}

func (p *Pool) discard(s *Session, reason string) {
	_ = s.close()
	p.observer.SessionDiscarded(p.cfg.Target, reason)
}
