// Copyright 2026 The CollectOps Authors
//
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

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("event dispatcher closed")

// DropRecorder is notified when an event cannot be queued.
type DropRecorder interface {
	EventDropped(ctx context.Context, eventType string)
}

// DispatcherConfig configures the async dispatcher
type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

// Dispatcher decouples callers from the downstream publisher with a bounded
// queue. Publish never blocks; when the queue is full the event is dropped
// and logged. Delivery is best effort.
type Dispatcher struct {
	next    Publisher
	drops   DropRecorder
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts cfg.Workers goroutines draining into next.
func NewDispatcher(next Publisher, cfg DispatcherConfig, drops DropRecorder) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		next:    next,
		drops:   drops,
		timeout: cfg.PublishTimeout,
		queue:   make(chan Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, evt Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- evt:
		return nil
	default:
		slog.WarnContext(ctx, "event queue full, dropping event",
			slog.String("event_type", evt.Type),
			slog.String("event_id", evt.ID),
			slog.String("tenant_id", evt.TenantID),
		)
		if d.drops != nil {
			d.drops.EventDropped(ctx, evt.Type)
		}
		return nil
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event publisher panicked", slog.String("event_type", evt.Type), slog.Any("panic", r))
		}
	}()

	if err := d.next.Publish(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "failed to publish event",
			slog.String("event_type", evt.Type),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting events and waits for queued ones to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
