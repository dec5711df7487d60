// Package expdecay tracks per-bucket request hotness as an exponentially
// decaying counter. The refresh scheduler uses it to visit hot buckets first.
package expdecay

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

type Tracker struct {
	HalfLife time.Duration

	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = 10 * time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

// Inc records one request against bucketID.
func (t *Tracker) Inc(bucketID string) {
	if bucketID == "" {
		return
	}
	s := t.pick(bucketID)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[bucketID]
	if c == nil {
		s.m[bucketID] = &counter{score: 1, last: n}
		return
	}
	c.score = decay(c.score, n.Sub(c.last).Seconds(), t.HalfLife.Seconds()) + 1.0
	c.last = n
}

func (t *Tracker) Score(bucketID string) float64 {
	if bucketID == "" {
		return 0
	}
	s := t.pick(bucketID)
	n := t.now()

	s.mu.RLock()
	c := s.m[bucketID]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()

	return decay(score, n.Sub(last).Seconds(), t.HalfLife.Seconds())
}

// Rank returns a copy of ids ordered hottest first; equal scores keep id
// order so the result is deterministic.
func (t *Tracker) Rank(ids []string) []string {
	type scored struct {
		id    string
		score float64
	}
	tmp := make([]scored, len(ids))
	for i, id := range ids {
		tmp[i] = scored{id: id, score: t.Score(id)}
	}
	slices.SortFunc(tmp, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	out := make([]string, len(tmp))
	for i, s := range tmp {
		out[i] = s.id
	}
	return out
}

// Prune drops counters whose decayed score fell below floor and returns how
// many were removed.
func (t *Tracker) Prune(floor float64) int {
	n := t.now()
	hl := t.HalfLife.Seconds()
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, c := range s.m {
			if decay(c.score, n.Sub(c.last).Seconds(), hl) < floor {
				delete(s.m, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *Tracker) Reset(bucketIDs ...string) {
	for _, id := range bucketIDs {
		if id == "" {
			continue
		}
		s := t.pick(id)
		s.mu.Lock()
		delete(s.m, id)
		s.mu.Unlock()
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	lambda := math.Ln2 / halfLife
	return score * math.Exp(-lambda*dt)
}

func (t *Tracker) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	return &t.shards[h&(uint64(len(t.shards))-1)]
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}
