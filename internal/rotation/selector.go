// Package rotation picks the next upstream proxy from a registry snapshot.
// The strategy set is closed and dispatched through a single Select entry
// point; cursor state never leaves this package.
package rotation

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"rota/internal/registry"
)

type Strategy string

const (
	StrategyRandom           Strategy = "random"
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyTimeBased        Strategy = "time_based"
)

var ErrNoneAvailable = errors.New("rotation: no eligible proxies available")

func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyRandom:
		return StrategyRandom, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyLeastConnections:
		return StrategyLeastConnections, nil
	case StrategyTimeBased:
		return StrategyTimeBased, nil
	default:
		return "", fmt.Errorf("rotation: unknown strategy %q", raw)
	}
}

type Selector struct {
	mu       sync.Mutex
	strategy Strategy
	window   time.Duration

	cursor int

	windowStart   time.Time
	windowProxyID uint64
	windowValid   bool

	now     func() time.Time
	pickRnd func(n int) int
}

func NewSelector(strategy Strategy, window time.Duration) *Selector {
	if window <= 0 {
		window = time.Minute
	}
	return &Selector{
		strategy: strategy,
		window:   window,
		now:      time.Now,
		pickRnd:  rand.Intn,
	}
}

func (s *Selector) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// SetStrategy swaps the strategy at runtime and resets cursor state.
func (s *Selector) SetStrategy(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy == strategy {
		return
	}
	s.strategy = strategy
	s.cursor = 0
	s.windowValid = false
}

func (s *Selector) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = window
	s.windowValid = false
}

// Select returns the next proxy among eligible, skipping ids in exclude.
// The eligible slice is expected ordered by id, as the registry returns it.
func (s *Selector) Select(eligible []registry.ProxyView, exclude map[uint64]struct{}) (registry.ProxyView, error) {
	candidates := eligible
	if len(exclude) > 0 {
		candidates = make([]registry.ProxyView, 0, len(eligible))
		for _, v := range eligible {
			if _, tried := exclude[v.ID]; tried {
				continue
			}
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return registry.ProxyView{}, ErrNoneAvailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.strategy {
	case StrategyRoundRobin:
		return s.selectRoundRobin(candidates), nil
	case StrategyLeastConnections:
		return selectLeastConnections(candidates), nil
	case StrategyTimeBased:
		return s.selectTimeBased(candidates), nil
	default:
		return candidates[s.pickRnd(len(candidates))], nil
	}
}

// The eligible set can shrink between calls, so the cursor is clamped into
// range on every call instead of assumed stable.
func (s *Selector) selectRoundRobin(candidates []registry.ProxyView) registry.ProxyView {
	s.cursor %= len(candidates)
	chosen := candidates[s.cursor]
	s.cursor++
	return chosen
}

func selectLeastConnections(candidates []registry.ProxyView) registry.ProxyView {
	// Candidates arrive ordered by id, so keeping the first strict minimum
	// breaks ties toward the lowest id.
	chosen := candidates[0]
	for _, v := range candidates[1:] {
		if v.ActiveConnections < chosen.ActiveConnections {
			chosen = v
		}
	}
	return chosen
}

func (s *Selector) selectTimeBased(candidates []registry.ProxyView) registry.ProxyView {
	now := s.now()
	if s.windowValid && now.Sub(s.windowStart) < s.window {
		for _, v := range candidates {
			if v.ID == s.windowProxyID {
				return v
			}
		}
		// The window's proxy left the eligible set; re-pick immediately
		// without realigning the window start.
	} else {
		s.windowStart = now
	}

	chosen := s.selectRoundRobin(candidates)
	s.windowProxyID = chosen.ID
	s.windowValid = true
	return chosen
}
