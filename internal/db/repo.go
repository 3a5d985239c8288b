package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vigil/internal/models"
)

// ErrInvalidComparison is returned when a rule carries a comparison
// operator outside the six recognized symbols. Validation lives here, at
// the store boundary, so the evaluation engine never sees a bad operator.
var ErrInvalidComparison = errors.New("invalid comparison operator")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

// --- users ---

func (r *Repository) CreateUser(ctx context.Context, email, hashedPassword string, superuser bool) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO users (email,hashed_password,is_superuser,created_at) VALUES (?,?,?,?)`,
		email, hashedPassword, boolInt(superuser), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	var super int
	err := r.db.QueryRowContext(ctx, `SELECT id,email,hashed_password,is_superuser,created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.Email, &u.HashedPassword, &super, &u.CreatedAt)
	u.IsSuperuser = super == 1
	return u, err
}

func (r *Repository) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	var super int
	err := r.db.QueryRowContext(ctx, `SELECT id,email,hashed_password,is_superuser,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &u.HashedPassword, &super, &u.CreatedAt)
	u.IsSuperuser = super == 1
	return u, err
}

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// --- servers ---

func (r *Repository) CreateServer(ctx context.Context, s models.Server) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO servers (name,job_name,instance,is_active) VALUES (?,?,?,?)`,
		s.Name, s.JobName, s.Instance, boolInt(s.IsActive))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) GetServer(ctx context.Context, id int64) (models.Server, error) {
	var s models.Server
	var active int
	err := r.db.QueryRowContext(ctx, `SELECT id,name,job_name,instance,is_active FROM servers WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &s.JobName, &s.Instance, &active)
	s.IsActive = active == 1
	return s, err
}

func (r *Repository) ListServers(ctx context.Context, offset, limit int) ([]models.Server, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,name,job_name,instance,is_active FROM servers ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Server, 0, limit)
	for rows.Next() {
		var s models.Server
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.JobName, &s.Instance, &active); err != nil {
			return nil, err
		}
		s.IsActive = active == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// ServerUpdate carries the fields of a partial server update; nil means
// "leave unchanged".
type ServerUpdate struct {
	Name     *string `json:"name"`
	JobName  *string `json:"job_name"`
	Instance *string `json:"instance"`
	IsActive *bool   `json:"is_active"`
}

func (r *Repository) UpdateServer(ctx context.Context, id int64, upd ServerUpdate) error {
	sets := []string{}
	args := []any{}
	if upd.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.JobName != nil {
		sets = append(sets, "job_name=?")
		args = append(args, *upd.JobName)
	}
	if upd.Instance != nil {
		sets = append(sets, "instance=?")
		args = append(args, *upd.Instance)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, boolInt(*upd.IsActive))
	}
	if len(sets) == 0 {
		return r.exists(ctx, "servers", id)
	}
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE servers SET %s WHERE id=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (r *Repository) DeleteServer(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM servers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// --- alert rules ---

func (r *Repository) CreateRule(ctx context.Context, rule models.AlertRule) (int64, error) {
	if !models.ValidComparison(rule.Comparison) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidComparison, rule.Comparison)
	}
	if rule.RepeatIntervalSec <= 0 {
		rule.RepeatIntervalSec = 300
	}
	if rule.Channel == "" {
		rule.Channel = models.ChannelTelegram
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO alert_rules
		(name,server_id,metric_name,promql,threshold,comparison,repeat_interval_sec,is_active,channel)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rule.Name, rule.ServerID, rule.MetricName, rule.PromQL, rule.Threshold, rule.Comparison,
		rule.RepeatIntervalSec, boolInt(rule.IsActive), rule.Channel)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) GetRule(ctx context.Context, id int64) (models.AlertRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id,name,server_id,metric_name,promql,threshold,comparison,repeat_interval_sec,is_active,channel
		FROM alert_rules WHERE id=?`, id)
	return scanRule(row)
}

func (r *Repository) ListRules(ctx context.Context, serverID *int64, offset, limit int) ([]models.AlertRule, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id,name,server_id,metric_name,promql,threshold,comparison,repeat_interval_sec,is_active,channel FROM alert_rules`
	args := []any{}
	if serverID != nil {
		query += ` WHERE server_id=?`
		args = append(args, *serverID)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListActiveRules returns every rule with the active flag set. The
// scheduler calls this fresh on each tick; nothing is cached.
func (r *Repository) ListActiveRules(ctx context.Context) ([]models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,name,server_id,metric_name,promql,threshold,comparison,repeat_interval_sec,is_active,channel
		FROM alert_rules WHERE is_active=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// RuleUpdate carries the fields of a partial rule update; nil means
// "leave unchanged".
type RuleUpdate struct {
	Name              *string  `json:"name"`
	MetricName        *string  `json:"metric_name"`
	PromQL            *string  `json:"promql"`
	Threshold         *float64 `json:"threshold"`
	Comparison        *string  `json:"comparison"`
	RepeatIntervalSec *int     `json:"repeat_interval_sec"`
	IsActive          *bool    `json:"is_active"`
	Channel           *string  `json:"channel"`
}

func (r *Repository) UpdateRule(ctx context.Context, id int64, upd RuleUpdate) error {
	if upd.Comparison != nil && !models.ValidComparison(*upd.Comparison) {
		return fmt.Errorf("%w: %q", ErrInvalidComparison, *upd.Comparison)
	}
	sets := []string{}
	args := []any{}
	if upd.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.MetricName != nil {
		sets = append(sets, "metric_name=?")
		args = append(args, *upd.MetricName)
	}
	if upd.PromQL != nil {
		sets = append(sets, "promql=?")
		args = append(args, *upd.PromQL)
	}
	if upd.Threshold != nil {
		sets = append(sets, "threshold=?")
		args = append(args, *upd.Threshold)
	}
	if upd.Comparison != nil {
		sets = append(sets, "comparison=?")
		args = append(args, *upd.Comparison)
	}
	if upd.RepeatIntervalSec != nil {
		sets = append(sets, "repeat_interval_sec=?")
		args = append(args, *upd.RepeatIntervalSec)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, boolInt(*upd.IsActive))
	}
	if upd.Channel != nil {
		sets = append(sets, "channel=?")
		args = append(args, *upd.Channel)
	}
	if len(sets) == 0 {
		return r.exists(ctx, "alert_rules", id)
	}
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE alert_rules SET %s WHERE id=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (r *Repository) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// --- alert events ---

func (r *Repository) CreateEvent(ctx context.Context, e models.AlertEvent) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO alert_events (alert_rule_id,server_id,metric_name,value,status,created_at)
		VALUES (?,?,?,?,?,?)`,
		e.AlertRuleID, e.ServerID, e.MetricName, e.Value, e.Status, e.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) GetEvent(ctx context.Context, id int64) (models.AlertEvent, error) {
	var e models.AlertEvent
	err := r.db.QueryRowContext(ctx, `SELECT id,alert_rule_id,server_id,metric_name,value,status,created_at FROM alert_events WHERE id=?`, id).
		Scan(&e.ID, &e.AlertRuleID, &e.ServerID, &e.MetricName, &e.Value, &e.Status, &e.CreatedAt)
	return e, err
}

// HasRecentTrigger reports whether a triggered event exists for the rule
// at or after now minus withinSec. The boundary is inclusive: an event
// created exactly withinSec ago still suppresses.
func (r *Repository) HasRecentTrigger(ctx context.Context, ruleID int64, withinSec int, now time.Time) (bool, error) {
	cutoff := now.UTC().Add(-time.Duration(withinSec) * time.Second)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_events
		WHERE alert_rule_id=? AND status=? AND created_at >= ?`, ruleID, models.StatusTriggered, cutoff).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EventFilter narrows an event listing; nil fields are not applied.
type EventFilter struct {
	ServerID *int64
	RuleID   *int64
	Status   *string
	Offset   int
	Limit    int
}

func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]models.AlertEvent, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	clauses := []string{"1=1"}
	args := []any{}
	if f.ServerID != nil {
		clauses = append(clauses, "server_id=?")
		args = append(args, *f.ServerID)
	}
	if f.RuleID != nil {
		clauses = append(clauses, "alert_rule_id=?")
		args = append(args, *f.RuleID)
	}
	if f.Status != nil {
		clauses = append(clauses, "status=?")
		args = append(args, *f.Status)
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT id,alert_rule_id,server_id,metric_name,value,status,created_at FROM alert_events
		WHERE %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, strings.Join(clauses, " AND "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AlertEvent, 0, limit)
	for rows.Next() {
		var e models.AlertEvent
		if err := rows.Scan(&e.ID, &e.AlertRuleID, &e.ServerID, &e.MetricName, &e.Value, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- helpers ---

func scanRule(row *sql.Row) (models.AlertRule, error) {
	var rule models.AlertRule
	var active int
	err := row.Scan(&rule.ID, &rule.Name, &rule.ServerID, &rule.MetricName, &rule.PromQL,
		&rule.Threshold, &rule.Comparison, &rule.RepeatIntervalSec, &active, &rule.Channel)
	rule.IsActive = active == 1
	return rule, err
}

func collectRules(rows *sql.Rows) ([]models.AlertRule, error) {
	var out []models.AlertRule
	for rows.Next() {
		var rule models.AlertRule
		var active int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.ServerID, &rule.MetricName, &rule.PromQL,
			&rule.Threshold, &rule.Comparison, &rule.RepeatIntervalSec, &active, &rule.Channel); err != nil {
			return nil, err
		}
		rule.IsActive = active == 1
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) exists(ctx context.Context, table string, id int64) error {
	var n int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id=?`, table), id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
