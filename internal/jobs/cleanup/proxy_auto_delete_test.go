package cleanup

import (
	"testing"
	"time"

	"rota/internal/domain"
)

func TestUnhealthySweepUsesConfiguredWindow(t *testing.T) {
	var gotCutoff time.Time
	original := archiveUnhealthyFunc
	archiveUnhealthyFunc = func(cutoff time.Time, limit int) ([]domain.DeletedProxy, error) {
		gotCutoff = cutoff
		return []domain.DeletedProxy{{ID: 1}}, nil
	}
	t.Cleanup(func() { archiveUnhealthyFunc = original })

	var archived []uint64
	sweepUnhealthy(3600, func(rows []domain.DeletedProxy) {
		for _, row := range rows {
			archived = append(archived, row.ID)
		}
	})

	want := time.Now().Add(-time.Hour)
	if gotCutoff.IsZero() {
		t.Fatal("archive was never called")
	}
	if diff := want.Sub(gotCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", gotCutoff, want)
	}
	if len(archived) != 1 || archived[0] != 1 {
		t.Fatalf("archived ids = %v, want [1]", archived)
	}
}

func TestUnhealthySweepDisabledForZeroWindow(t *testing.T) {
	called := false
	original := archiveUnhealthyFunc
	archiveUnhealthyFunc = func(time.Time, int) ([]domain.DeletedProxy, error) {
		called = true
		return nil, nil
	}
	t.Cleanup(func() { archiveUnhealthyFunc = original })

	sweepUnhealthy(0, nil)
	sweepUnhealthy(-10, nil)

	if called {
		t.Fatal("sweep ran with archiving disabled")
	}
}

func TestUnhealthySweepDrainsFullBatches(t *testing.T) {
	calls := 0
	original := archiveUnhealthyFunc
	archiveUnhealthyFunc = func(_ time.Time, limit int) ([]domain.DeletedProxy, error) {
		calls++
		if calls == 1 {
			// A full first batch means more candidates may remain.
			rows := make([]domain.DeletedProxy, limit)
			for i := range rows {
				rows[i].ID = uint64(i + 1)
			}
			return rows, nil
		}
		return nil, nil
	}
	t.Cleanup(func() { archiveUnhealthyFunc = original })

	sweepUnhealthy(60, nil)

	if calls != 2 {
		t.Fatalf("archive called %d times, want 2 (drain until short batch)", calls)
	}
}
