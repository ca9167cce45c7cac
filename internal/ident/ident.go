// Package ident issues the wire-visible identifiers: 16-digit numeric order
// ids, monotonic per worker, and the dated CLS/SLC/TPC ids used for derived
// provider requests.
package ident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fxcore/internal/keys"
	"fxcore/internal/store"
)

// Order ids pack ms-since-epoch (12 digits), worker id (2) and an intra-ms
// sequence (2) into exactly 16 decimal digits. The custom epoch keeps the
// millisecond part at 12 digits until 2051.
const epochMs = 1577836800000 // 2020-01-01T00:00:00Z

const (
	workerMod = 100
	seqMod    = 100
)

// Generator issues order ids. One generator per process; the worker id keeps
// replicas from colliding.
type Generator struct {
	mu     sync.Mutex
	worker int64
	lastMs int64
	seq    int64
	nowMs  func() int64
}

func NewGenerator(workerID int) *Generator {
	return &Generator{
		worker: int64(workerID % workerMod),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Next returns the next id. Within one millisecond the sequence increments;
// when it wraps, the generator holds for the next millisecond rather than
// repeat. A clock stepping backwards never lowers the timestamp part.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowMs() - epochMs
	if now < g.lastMs {
		now = g.lastMs
	}
	if now == g.lastMs {
		g.seq++
		if g.seq >= seqMod {
			for now <= g.lastMs {
				now = g.nowMs() - epochMs
				if now < g.lastMs {
					now = g.lastMs + 1
				}
			}
			g.seq = 0
		}
	} else {
		g.seq = 0
	}
	g.lastMs = now

	id := (now*workerMod+g.worker)*seqMod + g.seq
	return fmt.Sprintf("%016d", id)
}

// Close-request id prefixes.
type ClosePrefix string

const (
	PrefixClose    ClosePrefix = "CLS"
	PrefixCancelSL ClosePrefix = "SLC"
	PrefixCancelTP ClosePrefix = "TPC"
)

// CloseID issues `PREFIX + yyyymmdd + zero-padded daily sequence`, the
// sequence coming from a store counter so replicas share it.
func CloseID(ctx context.Context, st store.Store, prefix ClosePrefix, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	key := keys.CloseSeqKey(day)
	n, err := st.Incr(ctx, key)
	if err != nil {
		return "", fmt.Errorf("ident: close sequence: %w", err)
	}
	if n == 1 {
		// Best effort; a lingering counter only wastes a key.
		_ = st.Expire(ctx, key, keys.CloseSeqTTL)
	}
	return fmt.Sprintf("%s%s%06d", prefix, day, n), nil
}
