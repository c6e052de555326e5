package jobs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"edugate/internal/pipeline"
)

// WithTimeout bounds each follow-up read individually, so one stalled read
// cannot hold the job in its busy state forever.
func WithTimeout(followUps []FollowUp, d time.Duration) []FollowUp {
	if d <= 0 {
		return followUps
	}
	bounded := make([]FollowUp, len(followUps))
	for i, fu := range followUps {
		run := fu.Run
		bounded[i] = FollowUp{
			Name: fu.Name,
			Run: func(ctx context.Context, jobID string) error {
				ctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return run(ctx, jobID)
			},
		}
	}
	return bounded
}

// ReportFollowUps are the reads fired after a report job completes: the
// first results page, the job detail record, and the conversation tied to
// the job. Order matters; each runs regardless of the previous one's outcome.
func ReportFollowUps(client *pipeline.Client) []FollowUp {
	return []FollowUp{
		{
			Name: "first results page",
			Run: func(ctx context.Context, jobID string) error {
				_, err := client.Do(ctx, pipeline.Request{
					Method: http.MethodGet,
					Path:   fmt.Sprintf("/api/reports/%s/results?page=1", jobID),
				})
				return err
			},
		},
		{
			Name: "job detail",
			Run: func(ctx context.Context, jobID string) error {
				_, err := client.Do(ctx, pipeline.Request{
					Method: http.MethodGet,
					Path:   fmt.Sprintf("/api/jobs/%s", jobID),
				})
				return err
			},
		},
		{
			Name: "conversation reload",
			Run: func(ctx context.Context, jobID string) error {
				_, err := client.Do(ctx, pipeline.Request{
					Method: http.MethodGet,
					Path:   fmt.Sprintf("/api/conversations?jobId=%s", jobID),
				})
				return err
			},
		},
	}
}
