package channel

import (
	"context"

	"edugate/internal/domain"
)

// Notifications is the alerting channel. It also carries the job progress
// event stream consumed by the correlator.
type Notifications struct {
	*Manager
}

func NewNotifications(opts Options) *Notifications {
	opts.Name = "notifications"
	return &Notifications{Manager: NewManager(opts)}
}

func (n *Notifications) OnNotification(fn Handler) *Subscription {
	return n.Subscribe(domain.EventNotification, fn)
}

// OnNotificationBatch delivers notification bursts coalesced per debounce
// window.
func (n *Notifications) OnNotificationBatch(fn BatchHandler) *Subscription {
	return n.SubscribeBatch(domain.EventNotification, fn)
}

func (n *Notifications) OnUnreadCount(fn Handler) *Subscription {
	return n.Subscribe(domain.EventUnreadCount, fn)
}

func (n *Notifications) RequestUnreadCount(ctx context.Context) error {
	return n.Invoke(ctx, "RequestUnreadCount", nil)
}

// StartReportJob asks the platform to kick off a crawler report job. The
// job id arrives on the event stream, not in the invoke result.
func (n *Notifications) StartReportJob(ctx context.Context, reportType string) error {
	return n.Invoke(ctx, "StartReportJob", map[string]string{"reportType": reportType})
}

var jobEventTypes = []domain.EventType{
	domain.EventJobPlanning,
	domain.EventJobNavigation,
	domain.EventJobPagination,
	domain.EventJobExtraction,
	domain.EventJobCompleted,
	domain.EventJobFailed,
}

// OnJobEvent fans one handler out over every job progress event type and
// returns the cancel handles.
func (n *Notifications) OnJobEvent(fn Handler) []*Subscription {
	subs := make([]*Subscription, 0, len(jobEventTypes))
	for _, typ := range jobEventTypes {
		subs = append(subs, n.Subscribe(typ, fn))
	}
	return subs
}
