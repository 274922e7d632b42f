// Copyright 2024 The evmtrack Authors
// This file is part of the evmtrack library.
//
// The evmtrack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtrack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtrack library. If not, see <http://www.gnu.org/licenses/>.

// Package ratelimit provides the process-wide token bucket that gates every
// outbound RPC call. The bucket is refilled to capacity once per second, so
// bursts up to capacity are permitted and then throttled until the next tick.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket with a fixed capacity. One token corresponds to
// one RPC call. Waiters queue on the token channel, which hands tokens out in
// arrival order; a canceled waiter consumes no token.
type Limiter struct {
	tokens   chan struct{}
	capacity int
	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing up to maxPerSecond acquisitions per calendar
// second and starts its refill clock. maxPerSecond must be positive.
func New(maxPerSecond int) *Limiter {
	l := &Limiter{
		tokens:   make(chan struct{}, maxPerSecond),
		capacity: maxPerSecond,
		quit:     make(chan struct{}),
	}
	l.refill()
	go l.loop()
	return l
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-l.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the refill clock. Pending waiters still drain whatever
// tokens remain in the bucket.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

func (l *Limiter) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.refill()
		case <-l.quit:
			return
		}
	}
}

// refill tops the bucket back up to capacity. Sends are non-blocking: tokens
// still unspent from the previous second are kept, never duplicated.
func (l *Limiter) refill() {
	for i := 0; i < l.capacity; i++ {
		select {
		case l.tokens <- struct{}{}:
		default:
			return
		}
	}
}

var (
	mu     sync.Mutex
	global *Limiter
)

// Init installs the process-wide limiter. A maxPerSecond of zero disables
// throttling. Only the first call takes effect; the limiter must not change
// once the first subscription has started.
func Init(maxPerSecond uint32) {
	mu.Lock()
	defer mu.Unlock()
	if global != nil || maxPerSecond == 0 {
		return
	}
	global = New(int(maxPerSecond))
}

// Acquire takes one token from the process-wide limiter. It returns
// immediately when throttling is disabled.
func Acquire(ctx context.Context) error {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Acquire(ctx)
}

// reset is a test hook dropping the process-wide limiter.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		global.Stop()
		global = nil
	}
}
