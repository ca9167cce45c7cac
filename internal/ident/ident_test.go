package ident

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/internal/store"
)

func TestNextIs16DigitNumeric(t *testing.T) {
	g := NewGenerator(7)
	id := g.Next()

	assert.Len(t, id, 16)
	_, err := strconv.ParseUint(id, 10, 64)
	require.NoError(t, err)
}

func TestNextMonotonicWithinWorker(t *testing.T) {
	g := NewGenerator(1)
	prev := g.Next()
	for i := 0; i < 500; i++ {
		cur := g.Next()
		if cur <= prev {
			t.Fatalf("id %s not greater than %s", cur, prev)
		}
		prev = cur
	}
}

func TestNextSequencesWithinOneMillisecond(t *testing.T) {
	g := NewGenerator(3)
	fixed := int64(epochMs + 1_000_000)
	g.nowMs = func() int64 { return fixed }

	a := g.Next()
	b := g.Next()
	assert.NotEqual(t, a, b)
	// Same millisecond and worker: only the trailing sequence digits differ.
	assert.Equal(t, a[:14], b[:14])
}

func TestNextHoldsWhenClockStepsBack(t *testing.T) {
	g := NewGenerator(3)
	now := int64(epochMs + 2_000_000)
	g.nowMs = func() int64 { return now }
	first := g.Next()

	now -= 5000
	second := g.Next()
	assert.Greater(t, second, first)
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator(9)
	var (
		mu  sync.Mutex
		ids = make(map[string]struct{})
		wg  sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := g.Next()
				mu.Lock()
				if _, dup := ids[id]; dup {
					mu.Unlock()
					t.Errorf("duplicate id %s", id)
					return
				}
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 8*200)
}

func TestCloseIDFormatAndDailySequence(t *testing.T) {
	st := store.NewMem()
	ctx := context.Background()
	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	id1, err := CloseID(ctx, st, PrefixClose, day)
	require.NoError(t, err)
	assert.Equal(t, "CLS20260824000001", id1)

	id2, err := CloseID(ctx, st, PrefixCancelSL, day)
	require.NoError(t, err)
	assert.Equal(t, "SLC20260824000002", id2)

	next, err := CloseID(ctx, st, PrefixCancelTP, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "TPC20260825000001", next)
}
