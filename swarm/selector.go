// Package swarm implements SwarmSelector: peer scoring
// and selection once the known-peer set exceeds the session budget.
package swarm

import (
	"math/rand"
	"sort"

	async "github.com/anacrolix/sync"
)

const (
	throughputEWMA   = 0.1
	reliabilityEWMA  = 0.05
	weightThroughput = 0.4
	weightReliable   = 0.3
	weightSuccess    = 0.2
	weightLatency    = 0.1

	blacklistFailureThreshold   = 10
	blacklistReliabilityCeiling = 0.3
)

// PeerKey identifies a scored peer. The engine keys every peer by its
// endpoint string ("ip:port"), whether or not its peer-id is known.
type PeerKey string

type peerStats struct {
	throughput    float64 // EWMA bytes/sec
	reliability   float64 // EWMA verification success, 0..1
	failures      int
	successes     int
	avgLatencyMs  float64
	latencySeen   bool
}

// Selector maintains a rolling score per peer and picks which to prefer
// when the candidate pool is larger than the session can use.
type Selector struct {
	mu    async.Mutex
	stats map[PeerKey]*peerStats
	rng   *rand.Rand
}

func NewSelector() *Selector {
	return &Selector{
		stats: make(map[PeerKey]*peerStats),
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (s *Selector) stat(key PeerKey) *peerStats {
	st, ok := s.stats[key]
	if !ok {
		st = &peerStats{reliability: 1}
		s.stats[key] = st
	}
	return st
}

// RecordThroughput folds a newly observed block-transfer rate (bytes
// per second) into the peer's EWMA.
func (s *Selector) RecordThroughput(key PeerKey, bytesPerSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stat(key)
	st.throughput = throughputEWMA*bytesPerSecond + (1-throughputEWMA)*st.throughput
}

// RecordVerification folds a piece verification outcome into the
// peer's reliability EWMA and failure counter.
func (s *Selector) RecordVerification(key PeerKey, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stat(key)
	sample := 0.0
	if ok {
		sample = 1.0
		st.successes++
	} else {
		st.failures++
	}
	st.reliability = reliabilityEWMA*sample + (1-reliabilityEWMA)*st.reliability
}

// RecordLatency folds a request round-trip time into the peer's
// average response time.
func (s *Selector) RecordLatency(key PeerKey, ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stat(key)
	if !st.latencySeen {
		st.avgLatencyMs = ms
		st.latencySeen = true
		return
	}
	st.avgLatencyMs = (st.avgLatencyMs + ms) / 2
}

// Blacklisted reports whether key has accumulated enough failures and
// low enough reliability to be excluded from selection.
func (s *Selector) Blacklisted(key PeerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[key]
	if !ok {
		return false
	}
	return st.failures > blacklistFailureThreshold && st.reliability < blacklistReliabilityCeiling
}

func (s *Selector) score(st *peerStats, maxThroughput, maxLatency float64) float64 {
	throughputScore := 0.0
	if maxThroughput > 0 {
		throughputScore = st.throughput / maxThroughput
	}
	successRatio := 0.0
	if total := st.successes + st.failures; total > 0 {
		successRatio = float64(st.successes) / float64(total)
	}
	latencyScore := 1.0
	if maxLatency > 0 && st.latencySeen {
		latencyScore = 1 - (st.avgLatencyMs / maxLatency)
		if latencyScore < 0 {
			latencyScore = 0
		}
	}
	return weightThroughput*throughputScore +
		weightReliable*st.reliability +
		weightSuccess*successRatio +
		weightLatency*latencyScore
}

// Select returns up to budget non-blacklisted candidates, preferring
// the highest composite score but mixing in a small uniform-random
// jitter so the swarm does not converge on the same peers forever.
func (s *Selector) Select(candidates []PeerKey, budget int) []PeerKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	if budget >= len(candidates) {
		return filterBlacklisted(s, candidates)
	}

	var maxThroughput, maxLatency float64
	for _, key := range candidates {
		st := s.stat(key)
		if st.throughput > maxThroughput {
			maxThroughput = st.throughput
		}
		if st.latencySeen && st.avgLatencyMs > maxLatency {
			maxLatency = st.avgLatencyMs
		}
	}

	type scored struct {
		key   PeerKey
		score float64
	}
	var pool []scored
	for _, key := range candidates {
		st := s.stats[key]
		if st != nil && st.failures > blacklistFailureThreshold && st.reliability < blacklistReliabilityCeiling {
			continue
		}
		if st == nil {
			st = &peerStats{reliability: 1}
		}
		jitter := (s.rng.Float64() - 0.5) * 0.05
		pool = append(pool, scored{key: key, score: s.score(st, maxThroughput, maxLatency) + jitter})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	if len(pool) > budget {
		pool = pool[:budget]
	}
	out := make([]PeerKey, len(pool))
	for i, p := range pool {
		out[i] = p.key
	}
	return out
}

func filterBlacklisted(s *Selector, candidates []PeerKey) []PeerKey {
	var out []PeerKey
	for _, key := range candidates {
		st := s.stats[key]
		if st != nil && st.failures > blacklistFailureThreshold && st.reliability < blacklistReliabilityCeiling {
			continue
		}
		out = append(out, key)
	}
	return out
}
