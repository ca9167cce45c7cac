package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var _ Store = (*Mem)(nil)

// Mem is a complete in-process Store. Tests and single-process development
// use it the way the sim provider stands in for a live venue: same contract,
// no transport. Expiry is lazy; pub/sub fans out to buffered channels.
type Mem struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	strs    map[string]string
	expiry  map[string]time.Time
	subs    map[string][]*memSub
	nowFunc func() time.Time
}

func NewMem() *Mem {
	return &Mem{
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		strs:    make(map[string]string),
		expiry:  make(map[string]time.Time),
		subs:    make(map[string][]*memSub),
		nowFunc: time.Now,
	}
}

// reap must be called with mu held.
func (m *Mem) reap(key string) {
	if at, ok := m.expiry[key]; ok && m.nowFunc().After(at) {
		delete(m.hashes, key)
		delete(m.sets, key)
		delete(m.zsets, key)
		delete(m.strs, key)
		delete(m.expiry, key)
	}
}

func (m *Mem) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	h, ok := m.hashes[key]
	if !ok {
		return "", ErrNil
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Mem) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	out := make(map[string]string, len(fields))
	h, ok := m.hashes[key]
	if !ok {
		return out, nil
	}
	for _, f := range fields {
		if v, ok := h[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (m *Mem) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	out := make(map[string]string)
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Mem) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.hsetLocked(key, fields)
	return nil
}

func (m *Mem) hsetLocked(key string, fields map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
}

func (m *Mem) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.saddLocked(key, members)
	return nil
}

func (m *Mem) saddLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
}

func (m *Mem) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.sremLocked(key, members)
	return nil
}

func (m *Mem) sremLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		return
	}
	for _, mem := range members {
		delete(s, mem)
	}
	if len(s) == 0 {
		delete(m.sets, key)
	}
}

func (m *Mem) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for mem := range s {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mem) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.zaddLocked(key, score, member)
	return nil
}

func (m *Mem) zaddLocked(key string, score float64, member string) {
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
}

func (m *Mem) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	return m.zremLocked(key, members), nil
}

func (m *Mem) zremLocked(key string, members []string) int64 {
	z, ok := m.zsets[key]
	if !ok {
		return 0
	}
	var removed int64
	for _, mem := range members {
		if _, ok := z[mem]; ok {
			delete(z, mem)
			removed++
		}
	}
	if len(z) == 0 {
		delete(m.zsets, key)
	}
	return removed
}

func (m *Mem) ZRangeByScore(ctx context.Context, key, min, max string, rev bool) ([]string, error) {
	lo, loExcl, err := parseScoreBound(min, math.Inf(-1))
	if err != nil {
		return nil, err
	}
	hi, hiExcl, err := parseScoreBound(max, math.Inf(1))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)

	type entry struct {
		member string
		score  float64
	}
	var hits []entry
	for member, score := range m.zsets[key] {
		if score < lo || (loExcl && score == lo) {
			continue
		}
		if score > hi || (hiExcl && score == hi) {
			continue
		}
		hits = append(hits, entry{member, score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score < hits[j].score
		}
		return hits[i].member < hits[j].member
	})
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.member
	}
	if rev {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func parseScoreBound(s string, def float64) (val float64, exclusive bool, err error) {
	switch s {
	case "", "-inf":
		if s == "" {
			return def, false, nil
		}
		return math.Inf(-1), false, nil
	case "+inf", "inf":
		return math.Inf(1), false, nil
	}
	if strings.HasPrefix(s, "(") {
		v, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, false, fmt.Errorf("store: bad score bound %q: %w", s, err)
		}
		return v, true, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("store: bad score bound %q: %w", s, err)
	}
	return v, false, nil
}

func (m *Mem) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	v, ok := m.strs[key]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Mem) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Mem) setLocked(key, value string, ttl time.Duration) {
	m.strs[key] = value
	if ttl > 0 {
		m.expiry[key] = m.nowFunc().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *Mem) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	if _, ok := m.strs[key]; ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Mem) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	cur, _ := strconv.ParseInt(m.strs[key], 10, 64)
	cur++
	m.strs[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Mem) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delLocked(keys)
	return nil
}

func (m *Mem) delLocked(keys []string) {
	for _, key := range keys {
		delete(m.hashes, key)
		delete(m.sets, key)
		delete(m.zsets, key)
		delete(m.strs, key)
		delete(m.expiry, key)
	}
}

func (m *Mem) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.expireLocked(key, ttl)
	return nil
}

func (m *Mem) expireLocked(key string, ttl time.Duration) {
	if _, ok := m.hashes[key]; !ok {
		if _, ok := m.strs[key]; !ok {
			if _, ok := m.sets[key]; !ok {
				if _, ok := m.zsets[key]; !ok {
					return
				}
			}
		}
	}
	m.expiry[key] = m.nowFunc().Add(ttl)
}

func (m *Mem) Publish(ctx context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := make([]*memSub, len(m.subs[channel]))
	copy(subs, m.subs[channel])
	m.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

func (m *Mem) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s := &memSub{owner: m, channel: channel, ch: make(chan string, 256)}
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], s)
	m.mu.Unlock()
	return s, nil
}

type memSub struct {
	owner   *Mem
	channel string
	ch      chan string
	once    sync.Once
}

func (s *memSub) C() <-chan string { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		subs := s.owner.subs[s.channel]
		for i, cur := range subs {
			if cur == s {
				s.owner.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.owner.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// --- pipeline ---------------------------------------------------------------

func (m *Mem) Pipeline() Pipe {
	return &memPipe{m: m}
}

type memPipe struct {
	m   *Mem
	ops []func(*Mem)
}

func (p *memPipe) HSet(key string, fields map[string]string) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.reap(key); m.hsetLocked(key, fields) })
	return p
}

func (p *memPipe) SAdd(key string, members ...string) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.reap(key); m.saddLocked(key, members) })
	return p
}

func (p *memPipe) SRem(key string, members ...string) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.reap(key); m.sremLocked(key, members) })
	return p
}

func (p *memPipe) ZAdd(key string, score float64, member string) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.reap(key); m.zaddLocked(key, score, member) })
	return p
}

func (p *memPipe) ZRem(key string, members ...string) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.reap(key); m.zremLocked(key, members) })
	return p
}

func (p *memPipe) Set(key, value string, ttl time.Duration) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.setLocked(key, value, ttl) })
	return p
}

func (p *memPipe) Del(keys ...string) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.delLocked(keys) })
	return p
}

func (p *memPipe) Expire(key string, ttl time.Duration) Pipe {
	p.ops = append(p.ops, func(m *Mem) { m.reap(key); m.expireLocked(key, ttl) })
	return p
}

// Exec applies all queued ops under one lock, mirroring the single
// round-trip semantics of the production pipeline.
func (p *memPipe) Exec(ctx context.Context) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, op := range p.ops {
		op(p.m)
	}
	return nil
}
