package jobs

import (
	"context"
	"errors"
	"testing"

	"edugate/internal/domain"
)

func stageEvent(typ domain.EventType, jobID string, step, total int) domain.Event {
	payload := map[string]interface{}{}
	if total > 0 {
		payload["step"] = step
		payload["total"] = total
	}
	return domain.Event{Type: typ, JobID: jobID, Payload: payload}
}

func TestPercentNeverRegresses(t *testing.T) {
	c := NewCorrelator(Options{})
	ctx := context.Background()

	var observed []float64
	c.onChange = func(s domain.JobProgress) { observed = append(observed, s.Percent) }

	// planning 10%, navigation 20%, then a late planning event worth 15%.
	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-1", 1, 2))
	c.Handle(ctx, stageEvent(domain.EventJobNavigation, "job-1", 0, 5))
	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-1", 3, 4))

	want := []float64{10, 20, 20}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed %v, want %v", observed, want)
		}
	}
	for i := 1; i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			t.Fatalf("percent regressed: %v", observed)
		}
	}
}

func TestStageInterpolationAndFixedBump(t *testing.T) {
	c := NewCorrelator(Options{})
	ctx := context.Background()

	// Extraction with counters interpolates inside 75..95.
	c.Handle(ctx, stageEvent(domain.EventJobExtraction, "job-1", 1, 2))
	if got := c.Progress().Percent; got != 85 {
		t.Fatalf("extraction midpoint = %v, want 85", got)
	}

	// Pagination without counters would bump to 60, below current 85.
	c.Handle(ctx, stageEvent(domain.EventJobPagination, "job-1", 0, 0))
	if got := c.Progress().Percent; got != 85 {
		t.Fatalf("percent after lower-stage event = %v, want 85", got)
	}
	if got := c.Progress().Stage; got != domain.StagePagination {
		t.Fatalf("stage label = %q, want pagination", got)
	}
}

func TestStageCountersNeverExceedStageCeiling(t *testing.T) {
	c := NewCorrelator(Options{})
	ctx := context.Background()

	// step > total must cap at the stage ceiling, not leak into the
	// range reserved for later stages.
	c.Handle(ctx, stageEvent(domain.EventJobExtraction, "job-1", 5, 2))
	if got := c.Progress().Percent; got != 95 {
		t.Fatalf("overshooting extraction counters = %v, want 95", got)
	}

	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-1", 7, 2))
	if got := c.Progress().Percent; got != 95 {
		t.Fatalf("percent after capped lower stage = %v, want 95", got)
	}
}

func TestForeignJobIsIgnored(t *testing.T) {
	c := NewCorrelator(Options{})
	ctx := context.Background()

	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-1", 1, 2))
	before := c.Progress()

	c.Handle(ctx, stageEvent(domain.EventJobExtraction, "job-2", 2, 2))
	c.Handle(ctx, domain.Event{Type: domain.EventJobCompleted, JobID: "job-2"})

	after := c.Progress()
	if after != before {
		t.Fatalf("foreign job mutated state: before=%+v after=%+v", before, after)
	}
}

func TestCompletedRunsAllFollowUpsThenClearsBusy(t *testing.T) {
	var order []string
	var busyDuringFollowUps []bool
	c := NewCorrelator(Options{})
	c.followUps = []FollowUp{
		{Name: "results", Run: func(ctx context.Context, jobID string) error {
			order = append(order, "results:"+jobID)
			busyDuringFollowUps = append(busyDuringFollowUps, c.Progress().Busy)
			return errors.New("page fetch failed")
		}},
		{Name: "detail", Run: func(ctx context.Context, jobID string) error {
			order = append(order, "detail:"+jobID)
			busyDuringFollowUps = append(busyDuringFollowUps, c.Progress().Busy)
			return nil
		}},
		{Name: "conversation", Run: func(ctx context.Context, jobID string) error {
			order = append(order, "conversation:"+jobID)
			busyDuringFollowUps = append(busyDuringFollowUps, c.Progress().Busy)
			return nil
		}},
	}
	ctx := context.Background()

	c.Handle(ctx, stageEvent(domain.EventJobExtraction, "job-9", 2, 2))
	c.Handle(ctx, domain.Event{Type: domain.EventJobCompleted, JobID: "job-9"})

	wantOrder := []string{"results:job-9", "detail:job-9", "conversation:job-9"}
	if len(order) != len(wantOrder) {
		t.Fatalf("follow-ups ran %v, want %v", order, wantOrder)
	}
	for i := range wantOrder {
		if order[i] != wantOrder[i] {
			t.Fatalf("follow-ups ran %v, want %v", order, wantOrder)
		}
	}
	for i, busy := range busyDuringFollowUps {
		if !busy {
			t.Fatalf("busy cleared before follow-up %d finished", i)
		}
	}

	final := c.Progress()
	if final.Percent != 100 || final.Busy {
		t.Fatalf("final state = %+v, want percent 100 and not busy", final)
	}
	if final.Stage != domain.StageCompleted {
		t.Fatalf("final stage = %q, want completed", final.Stage)
	}

	// A straggler for the finished job must not resurrect the busy state.
	c.Handle(ctx, stageEvent(domain.EventJobExtraction, "job-9", 2, 2))
	if got := c.Progress(); got.Busy || got.Percent != 100 {
		t.Fatalf("state mutated by post-terminal event: %+v", got)
	}
}

func TestCompletedWithoutJobIDClearsBusyWithoutFollowUps(t *testing.T) {
	ran := 0
	c := NewCorrelator(Options{})
	c.followUps = []FollowUp{{Name: "results", Run: func(ctx context.Context, jobID string) error {
		ran++
		return nil
	}}}
	ctx := context.Background()

	c.Handle(ctx, stageEvent(domain.EventJobNavigation, "job-3", 0, 0))
	c.Handle(ctx, domain.Event{Type: domain.EventJobCompleted})

	state := c.Progress()
	if state.Busy {
		t.Fatal("busy not cleared after unattributed completion")
	}
	if state.Percent == 100 {
		t.Fatalf("percent asserted after unattributed completion: %v", state.Percent)
	}
	if ran != 0 {
		t.Fatalf("follow-ups ran %d times, want 0", ran)
	}
}

func TestFailedIsTerminal(t *testing.T) {
	c := NewCorrelator(Options{})
	ctx := context.Background()

	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-4", 1, 2))
	c.Handle(ctx, domain.Event{
		Type:    domain.EventJobFailed,
		JobID:   "job-4",
		Payload: map[string]interface{}{"message": "target site unreachable"},
	})

	state := c.Progress()
	if state.Busy {
		t.Fatal("busy not cleared after failure")
	}
	if state.Stage != domain.StageFailed {
		t.Fatalf("stage = %q, want failed", state.Stage)
	}
	if state.LastMessage != "target site unreachable" {
		t.Fatalf("last message = %q", state.LastMessage)
	}

	// After a terminal state, a different job stays ignored until Start.
	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-5", 1, 2))
	if got := c.Progress().ActiveJobID; got != "job-4" {
		t.Fatalf("active job = %q, want job-4", got)
	}

	c.Start("job-5")
	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-5", 1, 2))
	state = c.Progress()
	if state.ActiveJobID != "job-5" || state.Percent != 10 {
		t.Fatalf("restarted state = %+v", state)
	}
}

func TestStageEventWithoutJobIDAppliesToActiveJob(t *testing.T) {
	c := NewCorrelator(Options{})
	ctx := context.Background()

	// Nothing pinned yet: an unattributed stage event cannot pin.
	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "", 1, 2))
	if got := c.Progress().ActiveJobID; got != "" {
		t.Fatalf("pinned %q from unattributed event", got)
	}

	c.Handle(ctx, stageEvent(domain.EventJobPlanning, "job-6", 1, 2))
	c.Handle(ctx, stageEvent(domain.EventJobNavigation, "", 0, 0))
	state := c.Progress()
	if state.ActiveJobID != "job-6" || state.Percent <= 10 {
		t.Fatalf("state = %+v", state)
	}
}
