package trigger

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fxcore/internal/keys"
	"fxcore/internal/store"
)

// DefaultLeaseTTL bounds how long a dead engine blocks its partitions.
const DefaultLeaseTTL = 15 * time.Second

// PartitionOf maps a symbol onto one of count partitions. Every engine
// instance must use the same count or two leaders can own one symbol.
func PartitionOf(symbol string, count int) string {
	if count <= 1 {
		return "0"
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return strconv.Itoa(int(h.Sum32() % uint32(count)))
}

// partitionIndex is PartitionOf before the string conversion; the engine uses
// it to pick a lease slot, so it must stay in lockstep with PartitionOf and
// with the strconv.Itoa naming of engine leases.
func partitionIndex(symbol string, count int) int {
	if count <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(count))
}

// Lease is a single-partition leader lease. TryAcquire doubles as the
// renewal: called on a ticker faster than the TTL it keeps ownership; called
// after the holder died it lets someone else in once the TTL lapses.
type Lease struct {
	store store.Store
	key   string
	id    string
	ttl   time.Duration
	held  atomic.Bool
}

func NewLease(st store.Store, partition string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Lease{
		store: st,
		key:   keys.TriggerLeaseKey(partition),
		id:    uuid.NewString(),
		ttl:   ttl,
	}
}

// TryAcquire takes the lease if free or refreshes it if this holder already
// owns it, and reports whether the lease is held after the call.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SetNX(ctx, l.key, l.id, l.ttl)
	if err != nil {
		l.held.Store(false)
		return false, err
	}
	if ok {
		l.held.Store(true)
		return true, nil
	}
	cur, err := l.store.Get(ctx, l.key)
	if err != nil {
		l.held.Store(false)
		if store.IsNil(err) {
			// Expired between the SetNX and the Get; next tick wins it.
			return false, nil
		}
		return false, err
	}
	if cur != l.id {
		l.held.Store(false)
		return false, nil
	}
	if err := l.store.Expire(ctx, l.key, l.ttl); err != nil {
		l.held.Store(false)
		return false, err
	}
	l.held.Store(true)
	return true, nil
}

// Held reports the outcome of the last TryAcquire without touching the store.
func (l *Lease) Held() bool { return l.held.Load() }

// Release hands the partition back if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	defer l.held.Store(false)
	cur, err := l.store.Get(ctx, l.key)
	if err != nil {
		if store.IsNil(err) {
			return nil
		}
		return err
	}
	if cur != l.id {
		return nil
	}
	return l.store.Del(ctx, l.key)
}
