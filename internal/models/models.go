package models

import "time"

const (
	StatusTriggered = "triggered"
	StatusResolved  = "resolved"

	ChannelTelegram = "telegram"
)

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
}

// Server is a monitored host, addressed in Prometheus by job/instance.
type Server struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	JobName  string `json:"job_name"`
	Instance string `json:"instance"`
	IsActive bool   `json:"is_active"`
}

// AlertRule is a threshold condition over one PromQL expression bound to
// one server. The expression is opaque to this system; it is handed to
// Prometheus verbatim.
type AlertRule struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	ServerID          int64   `json:"server_id"`
	MetricName        string  `json:"metric_name"`
	PromQL            string  `json:"promql"`
	Threshold         float64 `json:"threshold"`
	Comparison        string  `json:"comparison"`
	RepeatIntervalSec int     `json:"repeat_interval_sec"`
	IsActive          bool    `json:"is_active"`
	Channel           string  `json:"channel"`
}

// AlertEvent is an append-only ledger entry. Rows are never updated;
// they only disappear by cascade when the parent rule or server goes.
type AlertEvent struct {
	ID          int64     `json:"id"`
	AlertRuleID int64     `json:"alert_rule_id"`
	ServerID    int64     `json:"server_id"`
	MetricName  string    `json:"metric_name"`
	Value       float64   `json:"value"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidComparison reports whether op is one of the six recognized
// comparison operators. Anything else must be rejected before persistence.
func ValidComparison(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "==", "!=":
		return true
	}
	return false
}
