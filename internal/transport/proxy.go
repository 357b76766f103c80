package transport

import (
	"sync"
)

// Score constants for the proxy pool. A proxy starts neutral, converges
// toward maxProxyScore on success with diminishing returns, and loses a fixed
// step per failure. A proxy whose score falls below the eviction floor stays
// in the pool but is never selected, so in-flight requests holding its
// address never race a deletion.
const (
	neutralProxyScore    = 1.0
	maxProxyScore        = 2.0
	proxySuccessFactor   = 0.1
	proxyFailurePenalty  = 0.25
	defaultEvictionFloor = 0.2
)

type proxyState struct {
	score     float64
	successes int
	failures  int
}

// ProxyStats exposes per-proxy reputation counters.
type ProxyStats struct {
	Address   string  `json:"address"`
	Score     float64 `json:"score"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
}

// ProxyPool is a scored, self-healing pool of outbound proxy addresses.
type ProxyPool struct {
	mu      sync.RWMutex
	proxies map[string]*proxyState
	floor   float64
}

// NewProxyPool builds a pool with the given eviction floor. A non-positive
// floor falls back to the default.
func NewProxyPool(floor float64) *ProxyPool {
	if floor <= 0 {
		floor = defaultEvictionFloor
	}
	return &ProxyPool{
		proxies: make(map[string]*proxyState),
		floor:   floor,
	}
}

// Add inserts a proxy with a neutral starting score. Adding an existing
// address is a no-op so known reputation is preserved.
func (p *ProxyPool) Add(address string) {
	if address == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.proxies[address]; exists {
		return
	}
	p.proxies[address] = &proxyState{score: neutralProxyScore}
}

// Pick returns the highest-scored proxy above the eviction floor. Ties break
// by lexicographic address so selection stays deterministic.
func (p *ProxyPool) Pick() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pickLocked("")
}

// PickOther behaves like Pick but excludes the given address, used when
// rotating away from a proxy that just timed out. If no other proxy is
// eligible it falls back to the excluded one.
func (p *ProxyPool) PickOther(exclude string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if addr, ok := p.pickLocked(exclude); ok {
		return addr, true
	}
	return p.pickLocked("")
}

func (p *ProxyPool) pickLocked(exclude string) (string, bool) {
	best := ""
	bestScore := 0.0
	for addr, state := range p.proxies {
		if addr == exclude || state.score < p.floor {
			continue
		}
		if best == "" || state.score > bestScore || (state.score == bestScore && addr < best) {
			best = addr
			bestScore = state.score
		}
	}
	return best, best != ""
}

// ReportSuccess raises the proxy's score with diminishing returns.
func (p *ProxyPool) ReportSuccess(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.proxies[address]
	if !ok {
		return
	}
	state.successes++
	state.score += proxySuccessFactor * (maxProxyScore - state.score)
	if state.score > maxProxyScore {
		state.score = maxProxyScore
	}
}

// ReportFailure lowers the proxy's score by a fixed step. The reason is
// retained only in the caller's logs.
func (p *ProxyPool) ReportFailure(address, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.proxies[address]
	if !ok {
		return
	}
	state.failures++
	state.score -= proxyFailurePenalty
	if state.score < 0 {
		state.score = 0
	}
}

// Stats returns a snapshot of per-proxy reputation.
func (p *ProxyPool) Stats() []ProxyStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ProxyStats, 0, len(p.proxies))
	for addr, state := range p.proxies {
		out = append(out, ProxyStats{
			Address:   addr,
			Score:     state.score,
			Successes: state.successes,
			Failures:  state.failures,
		})
	}
	return out
}

// Len reports the number of known proxies, eligible or not.
func (p *ProxyPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proxies)
}
