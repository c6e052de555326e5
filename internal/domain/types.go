package domain

type Role string

const (
	RoleStudent Role = "Student"
	RoleStaff   Role = "Staff"
	RoleAdmin   Role = "Admin"
)

// Tier selects how long credentials outlive the process. A persistent
// session keeps its refresh token in the encrypted vault; an ephemeral
// session keeps everything in memory only.
type Tier string

const (
	TierPersistent Tier = "persistent"
	TierEphemeral  Tier = "ephemeral"
)

// Credentials is always read and written as a whole tuple; partial token
// sets must never be observable.
type Credentials struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	Role         Role   `json:"role"`
	Tier         Tier   `json:"tier"`
}

func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

type EventType string

const (
	EventChatMessage   EventType = "chat.message"
	EventChatTyping    EventType = "chat.typing"
	EventUnreadRequest EventType = "chat.unread_request"

	EventNotification EventType = "notify.notification"
	EventUnreadCount  EventType = "notify.unread_count"

	EventJobPlanning   EventType = "job.planning"
	EventJobNavigation EventType = "job.navigation"
	EventJobPagination EventType = "job.pagination"
	EventJobExtraction EventType = "job.extraction"
	EventJobCompleted  EventType = "job.completed"
	EventJobFailed     EventType = "job.failed"

	EventError EventType = "error"
)

// Event is a transient push-channel frame. JobID is set only on events that
// belong to a background job.
type Event struct {
	Type    EventType              `json:"type"`
	JobID   string                 `json:"job_id,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type JobStage string

const (
	StagePlanning   JobStage = "planning"
	StageNavigation JobStage = "navigation"
	StagePagination JobStage = "pagination"
	StageExtraction JobStage = "extraction"
	StageCompleted  JobStage = "completed"
	StageFailed     JobStage = "failed"
)

// JobProgress is the derived signal exposed to UI collaborators. Percent is
// non-decreasing for a fixed ActiveJobID.
type JobProgress struct {
	ActiveJobID string   `json:"active_job_id,omitempty"`
	Percent     float64  `json:"percent"`
	Stage       JobStage `json:"stage,omitempty"`
	LastMessage string   `json:"last_message,omitempty"`
	Busy        bool     `json:"busy"`
}
