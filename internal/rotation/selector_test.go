package rotation

import (
	"testing"
	"time"

	"rota/internal/registry"
)

func eligibleSet(ids ...uint64) []registry.ProxyView {
	views := make([]registry.ProxyView, 0, len(ids))
	for _, id := range ids {
		views = append(views, registry.ProxyView{
			ID:       id,
			Host:     "10.0.0.1",
			Port:     uint16(8000 + id),
			Protocol: "http",
			Status:   registry.StatusActive,
		})
	}
	return views
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]Strategy{
		"random":            StrategyRandom,
		"ROUND_ROBIN":       StrategyRoundRobin,
		" least_connections": StrategyLeastConnections,
		"time_based":        StrategyTimeBased,
	}
	for raw, want := range cases {
		got, err := ParseStrategy(raw)
		if err != nil {
			t.Fatalf("ParseStrategy(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseStrategy(%q) = %q, want %q", raw, got, want)
		}
	}

	if _, err := ParseStrategy("weighted"); err == nil {
		t.Fatal("ParseStrategy accepted an unknown strategy")
	}
}

func TestSelectEmptyEligibleSet(t *testing.T) {
	s := NewSelector(StrategyRandom, time.Minute)
	if _, err := s.Select(nil, nil); err != ErrNoneAvailable {
		t.Fatalf("Select returned %v, want ErrNoneAvailable", err)
	}

	// A fully excluded set counts as empty too.
	s = NewSelector(StrategyRoundRobin, time.Minute)
	exclude := map[uint64]struct{}{1: {}, 2: {}}
	if _, err := s.Select(eligibleSet(1, 2), exclude); err != ErrNoneAvailable {
		t.Fatalf("Select returned %v, want ErrNoneAvailable", err)
	}
}

func TestRandomSelectionConvergesToUniform(t *testing.T) {
	s := NewSelector(StrategyRandom, time.Minute)
	eligible := eligibleSet(1, 2, 3, 4)

	const trials = 40000
	counts := make(map[uint64]int, len(eligible))
	for i := 0; i < trials; i++ {
		v, err := s.Select(eligible, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[v.ID]++
	}

	expected := trials / len(eligible)
	tolerance := expected / 10
	for _, v := range eligible {
		got := counts[v.ID]
		if got < expected-tolerance || got > expected+tolerance {
			t.Fatalf("proxy %d selected %d times, expected %d±%d", v.ID, got, expected, tolerance)
		}
	}
}

func TestRoundRobinVisitsEveryProxyOncePerCycle(t *testing.T) {
	s := NewSelector(StrategyRoundRobin, time.Minute)
	eligible := eligibleSet(1, 2, 3, 4, 5)

	for cycle := 0; cycle < 3; cycle++ {
		seen := make(map[uint64]int, len(eligible))
		for i := 0; i < len(eligible); i++ {
			v, err := s.Select(eligible, nil)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			seen[v.ID]++
		}
		for _, v := range eligible {
			if seen[v.ID] != 1 {
				t.Fatalf("cycle %d: proxy %d visited %d times, want 1", cycle, v.ID, seen[v.ID])
			}
		}
	}
}

func TestRoundRobinClampsCursorWhenSetShrinks(t *testing.T) {
	s := NewSelector(StrategyRoundRobin, time.Minute)

	big := eligibleSet(1, 2, 3, 4, 5)
	for i := 0; i < 4; i++ {
		if _, err := s.Select(big, nil); err != nil {
			t.Fatalf("Select: %v", err)
		}
	}

	small := eligibleSet(1, 2)
	v, err := s.Select(small, nil)
	if err != nil {
		t.Fatalf("Select after shrink: %v", err)
	}
	if v.ID != 1 && v.ID != 2 {
		t.Fatalf("Select returned proxy %d outside the eligible set", v.ID)
	}
}

func TestLeastConnectionsTieBreaksByLowestID(t *testing.T) {
	s := NewSelector(StrategyLeastConnections, time.Minute)

	eligible := eligibleSet(1, 2, 3, 4)
	for i, count := range []int64{3, 1, 4, 1} {
		eligible[i].ActiveConnections = count
	}

	for i := 0; i < 10; i++ {
		v, err := s.Select(eligible, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if v.ID != 2 {
			t.Fatalf("Select returned proxy %d, want 2 (lowest id among ties)", v.ID)
		}
	}
}

func TestTimeBasedSticksWithinWindow(t *testing.T) {
	s := NewSelector(StrategyTimeBased, time.Minute)
	current := time.Unix(1000, 0)
	s.now = func() time.Time { return current }

	eligible := eligibleSet(1, 2, 3)

	first, err := s.Select(eligible, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	current = current.Add(30 * time.Second)
	again, err := s.Select(eligible, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("mid-window selection switched from %d to %d", first.ID, again.ID)
	}

	current = current.Add(31 * time.Second)
	next, err := s.Select(eligible, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if next.ID == first.ID {
		t.Fatalf("window boundary did not advance the selection past proxy %d", first.ID)
	}
}

func TestTimeBasedRepicksWhenWindowProxyLeaves(t *testing.T) {
	s := NewSelector(StrategyTimeBased, time.Minute)
	current := time.Unix(2000, 0)
	s.now = func() time.Time { return current }

	eligible := eligibleSet(1, 2, 3)
	first, err := s.Select(eligible, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	remaining := make([]registry.ProxyView, 0, len(eligible)-1)
	for _, v := range eligible {
		if v.ID != first.ID {
			remaining = append(remaining, v)
		}
	}

	current = current.Add(10 * time.Second)
	replacement, err := s.Select(remaining, nil)
	if err != nil {
		t.Fatalf("Select after proxy left: %v", err)
	}
	if replacement.ID == first.ID {
		t.Fatal("selection returned a proxy no longer eligible")
	}

	// The replacement now owns the remainder of the window.
	current = current.Add(10 * time.Second)
	again, err := s.Select(remaining, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if again.ID != replacement.ID {
		t.Fatalf("mid-window selection switched from %d to %d", replacement.ID, again.ID)
	}
}

func TestSetStrategyResetsCursorState(t *testing.T) {
	s := NewSelector(StrategyRoundRobin, time.Minute)
	eligible := eligibleSet(1, 2, 3)

	if _, err := s.Select(eligible, nil); err != nil {
		t.Fatalf("Select: %v", err)
	}

	s.SetStrategy(StrategyTimeBased)
	if s.Strategy() != StrategyTimeBased {
		t.Fatalf("strategy = %q, want time_based", s.Strategy())
	}

	s.SetStrategy(StrategyRoundRobin)
	v, err := s.Select(eligible, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if v.ID != 1 {
		t.Fatalf("Select after reset returned proxy %d, want 1", v.ID)
	}
}
