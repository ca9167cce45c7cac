package queue

import (
	"context"
	"fmt"
	"sync"
)

type memMsg struct {
	body    []byte
	headers map[string]any
}

// MemBus is an in-process Bus used by tests and by single-binary dev mode.
// It mirrors the broker semantics the handlers rely on: FIFO per queue,
// bounded retries via the header counter, dead-lettering on exhaustion.
type MemBus struct {
	mu     sync.Mutex
	queues map[string][]memMsg
	notify chan struct{}
	closed bool
}

var _ Bus = (*MemBus)(nil)

func NewMemBus() *MemBus {
	return &MemBus{
		queues: make(map[string][]memMsg),
		notify: make(chan struct{}),
	}
}

func (b *MemBus) Publish(ctx context.Context, queue string, body []byte) error {
	return b.PublishWithHeaders(ctx, queue, body, nil)
}

func (b *MemBus) PublishWithHeaders(ctx context.Context, queue string, body []byte, headers map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("mem bus is closed")
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	var hdr map[string]any
	if len(headers) > 0 {
		hdr = make(map[string]any, len(headers))
		for k, v := range headers {
			hdr[k] = v
		}
	}
	b.queues[queue] = append(b.queues[queue], memMsg{body: cp, headers: hdr})
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

func (b *MemBus) pop(ctx context.Context, queue string) (memMsg, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return memMsg{}, fmt.Errorf("mem bus is closed")
		}
		if q := b.queues[queue]; len(q) > 0 {
			msg := q[0]
			b.queues[queue] = q[1:]
			b.mu.Unlock()
			return msg, nil
		}
		wake := b.notify
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return memMsg{}, ctx.Err()
		case <-wake:
		}
	}
}

func (b *MemBus) Consume(ctx context.Context, queue string, opts ConsumeOpts, fn HandlerFunc) error {
	opts = opts.withDefaults()
	for {
		msg, err := b.pop(ctx, queue)
		if err != nil {
			return err
		}
		retries := retriesFrom(msg.headers)
		if err := fn(ctx, Delivery{Body: msg.body, Headers: msg.headers, Retries: retries}); err != nil {
			if retries+1 >= opts.MaxRetries {
				_ = b.PublishWithHeaders(ctx, DLQ, msg.body, map[string]any{
					HeaderOrigin:  queue,
					HeaderReason:  err.Error(),
					HeaderRetries: retries + 1,
				})
				continue
			}
			next := make(map[string]any, len(msg.headers)+1)
			for k, v := range msg.headers {
				next[k] = v
			}
			next[HeaderRetries] = retries + 1
			_ = b.PublishWithHeaders(ctx, queue, msg.body, next)
		}
	}
}

// Messages snapshots the bodies currently waiting on queue.
func (b *MemBus) Messages(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, len(b.queues[queue]))
	for _, m := range b.queues[queue] {
		cp := make([]byte, len(m.body))
		copy(cp, m.body)
		out = append(out, cp)
	}
	return out
}

// Headers snapshots the headers of the i-th waiting message on queue.
func (b *MemBus) Headers(queue string, i int) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	if i < 0 || i >= len(q) {
		return nil
	}
	out := make(map[string]any, len(q[i].headers))
	for k, v := range q[i].headers {
		out[k] = v
	}
	return out
}

func (b *MemBus) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
		b.notify = make(chan struct{})
	}
	return nil
}
