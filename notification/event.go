package notification

import "time"

// AlarmEvent matches the JSON format published on the pipeline's tag.alarms
// topic.
type AlarmEvent struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"org_id"`
	TagID       string            `json:"tag_id"`
	Kind        string            `json:"kind"`
	Severity    string            `json:"severity"`
	TriggeredAt time.Time         `json:"triggered_at"`
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	Details     map[string]string `json:"details,omitempty"`
}
