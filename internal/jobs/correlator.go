// Package jobs turns the noisy, possibly out-of-order stream of background
// job events into one trustworthy progress signal. Exactly one job is
// tracked at a time; its displayed percent never goes backwards.
package jobs

import (
	"context"
	"log/slog"
	"sync"

	"edugate/internal/channel"
	"edugate/internal/domain"
)

// stageRange maps each pipeline stage to its slice of the 0..100 scale.
// Completion claims the remaining 95..100 only after follow-up reads finish.
var stageRanges = map[domain.EventType]struct{ lo, hi float64 }{
	domain.EventJobPlanning:   {0, 20},
	domain.EventJobNavigation: {20, 55},
	domain.EventJobPagination: {55, 75},
	domain.EventJobExtraction: {75, 95},
}

// noCounterFraction is how far into a stage's range an event without
// step/total counters bumps progress.
const noCounterFraction = 0.25

// FollowUp is one of the reads triggered after a job completes. Failures are
// recorded but never abort the remaining follow-ups.
type FollowUp struct {
	Name string
	Run  func(ctx context.Context, jobID string) error
}

type Options struct {
	Logger    *slog.Logger
	OnChange  func(domain.JobProgress)
	FollowUps []FollowUp
}

type Correlator struct {
	mu        sync.Mutex
	state     domain.JobProgress
	terminal  bool
	followUps []FollowUp
	logger    *slog.Logger
	onChange  func(domain.JobProgress)
}

func NewCorrelator(opts Options) *Correlator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Correlator{
		followUps: opts.FollowUps,
		logger:    opts.Logger,
		onChange:  opts.OnChange,
	}
}

// Start pins a new active job, discarding whatever the previous job left
// behind. Events for any other job id are ignored until the next Start.
func (c *Correlator) Start(jobID string) {
	c.mu.Lock()
	c.state = domain.JobProgress{ActiveJobID: jobID, Busy: true}
	c.terminal = false
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

// Reset clears all tracking state, including the pinned job id.
func (c *Correlator) Reset() {
	c.mu.Lock()
	c.state = domain.JobProgress{}
	c.terminal = false
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Correlator) Progress() domain.JobProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attach subscribes the correlator to a notifications channel's job events
// and returns the cancel handles.
func (c *Correlator) Attach(ctx context.Context, n *channel.Notifications) []*channel.Subscription {
	return n.OnJobEvent(func(evt domain.Event) {
		c.Handle(ctx, evt)
	})
}

// Handle applies one job event. Stage events merge monotonically; terminal
// events finish the job (running follow-up reads on completion) or record a
// correlation failure when the terminal event carries no job id.
func (c *Correlator) Handle(ctx context.Context, evt domain.Event) {
	switch evt.Type {
	case domain.EventJobCompleted:
		c.handleCompleted(ctx, evt)
	case domain.EventJobFailed:
		c.handleFailed(evt)
	default:
		if _, ok := stageRanges[evt.Type]; ok {
			c.handleStage(evt)
		}
	}
}

func (c *Correlator) handleStage(evt domain.Event) {
	c.mu.Lock()
	if !c.claim(evt.JobID) {
		c.mu.Unlock()
		return
	}
	r := stageRanges[evt.Type]
	candidate := r.lo + (r.hi-r.lo)*noCounterFraction
	if step, total, ok := counters(evt.Payload); ok {
		candidate = r.lo + (r.hi-r.lo)*step/total
	}
	candidate = clamp(candidate, r.lo, r.hi)
	if candidate > c.state.Percent {
		c.state.Percent = candidate
	}
	c.state.Stage = stageLabel(evt.Type)
	c.state.Busy = true
	if msg, ok := evt.Payload["message"].(string); ok && msg != "" {
		c.state.LastMessage = msg
	}
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Correlator) handleCompleted(ctx context.Context, evt domain.Event) {
	if evt.JobID == "" {
		// Terminal event we cannot attribute: clear busy, assert nothing.
		c.mu.Lock()
		c.state.Busy = false
		c.terminal = true
		snapshot := c.state
		c.mu.Unlock()
		c.logger.Warn("job completion without job id, correlation lost")
		c.notify(snapshot)
		return
	}

	c.mu.Lock()
	if !c.claim(evt.JobID) {
		c.mu.Unlock()
		return
	}
	jobID := c.state.ActiveJobID
	c.state.Stage = domain.StageCompleted
	followUps := c.followUps
	c.mu.Unlock()

	for _, fu := range followUps {
		if err := fu.Run(ctx, jobID); err != nil {
			c.logger.Warn("job follow-up failed", "job_id", jobID, "follow_up", fu.Name, "error", err)
		}
	}

	// Busy clears and percent tops out only after every follow-up has had
	// its chance, regardless of their outcomes.
	c.mu.Lock()
	c.state.Percent = 100
	c.state.Busy = false
	c.terminal = true
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Correlator) handleFailed(evt domain.Event) {
	c.mu.Lock()
	if evt.JobID != "" && !c.claim(evt.JobID) {
		c.mu.Unlock()
		return
	}
	c.state.Busy = false
	c.state.Stage = domain.StageFailed
	if msg, ok := evt.Payload["message"].(string); ok && msg != "" {
		c.state.LastMessage = msg
	}
	c.terminal = true
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

// claim pins the first job id seen and rejects events for any other job.
// Once the active job is terminal nothing mutates state until the next
// Start or Reset. Callers hold the mutex.
func (c *Correlator) claim(jobID string) bool {
	if c.terminal {
		return false
	}
	if c.state.ActiveJobID == "" {
		if jobID == "" {
			return false
		}
		c.state.ActiveJobID = jobID
		c.state.Busy = true
		return true
	}
	if jobID == "" {
		return true
	}
	return jobID == c.state.ActiveJobID
}

func (c *Correlator) notify(state domain.JobProgress) {
	if c.onChange != nil {
		c.onChange(state)
	}
}

func counters(payload map[string]interface{}) (step, total float64, ok bool) {
	step, sok := number(payload["step"])
	total, tok := number(payload["total"])
	if !sok || !tok || total <= 0 {
		return 0, 0, false
	}
	return step, total, true
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func stageLabel(typ domain.EventType) domain.JobStage {
	switch typ {
	case domain.EventJobPlanning:
		return domain.StagePlanning
	case domain.EventJobNavigation:
		return domain.StageNavigation
	case domain.EventJobPagination:
		return domain.StagePagination
	case domain.EventJobExtraction:
		return domain.StageExtraction
	default:
		return domain.JobStage(typ)
	}
}
