package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"vigil/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	sqldb, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewRepository(sqldb)
}

func seedServer(t *testing.T, repo *Repository) int64 {
	t.Helper()
	id, err := repo.CreateServer(context.Background(), models.Server{Name: "web-1", JobName: "node", Instance: "10.0.0.1:9100", IsActive: true})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	return id
}

func TestCreateRuleRejectsBadComparison(t *testing.T) {
	repo := newTestRepo(t)
	serverID := seedServer(t, repo)
	_, err := repo.CreateRule(context.Background(), models.AlertRule{
		Name: "bad", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: "~=",
	})
	if !errors.Is(err, ErrInvalidComparison) {
		t.Fatalf("err = %v, want ErrInvalidComparison", err)
	}
}

func TestUpdateRuleRejectsBadComparison(t *testing.T) {
	repo := newTestRepo(t)
	serverID := seedServer(t, repo)
	id, err := repo.CreateRule(context.Background(), models.AlertRule{
		Name: "ok", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: ">",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	bad := "=>"
	if err := repo.UpdateRule(context.Background(), id, RuleUpdate{Comparison: &bad}); !errors.Is(err, ErrInvalidComparison) {
		t.Fatalf("err = %v, want ErrInvalidComparison", err)
	}
	rule, err := repo.GetRule(context.Background(), id)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if rule.Comparison != ">" {
		t.Fatalf("comparison mutated to %q", rule.Comparison)
	}
}

func TestCreateRuleAppliesDefaults(t *testing.T) {
	repo := newTestRepo(t)
	serverID := seedServer(t, repo)
	id, err := repo.CreateRule(context.Background(), models.AlertRule{
		Name: "defaults", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: "<", IsActive: true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	rule, err := repo.GetRule(context.Background(), id)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if rule.RepeatIntervalSec != 300 {
		t.Fatalf("repeat interval = %d, want 300", rule.RepeatIntervalSec)
	}
	if rule.Channel != models.ChannelTelegram {
		t.Fatalf("channel = %q, want telegram", rule.Channel)
	}
}

func TestListActiveRulesSkipsDisabled(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	serverID := seedServer(t, repo)
	activeID, err := repo.CreateRule(ctx, models.AlertRule{Name: "on", ServerID: serverID, MetricName: "m", PromQL: "q1", Threshold: 1, Comparison: ">", IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := repo.CreateRule(ctx, models.AlertRule{Name: "off", ServerID: serverID, MetricName: "m", PromQL: "q2", Threshold: 1, Comparison: ">", IsActive: false}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	rules, err := repo.ListActiveRules(ctx)
	if err != nil {
		t.Fatalf("list active rules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != activeID {
		t.Fatalf("active rules = %+v, want only id %d", rules, activeID)
	}
}

func TestPartialServerUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := seedServer(t, repo)
	inactive := false
	if err := repo.UpdateServer(ctx, id, ServerUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("update server: %v", err)
	}
	s, err := repo.GetServer(ctx, id)
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if s.IsActive {
		t.Fatal("server still active after update")
	}
	if s.Name != "web-1" || s.JobName != "node" {
		t.Fatalf("untouched fields mutated: %+v", s)
	}
	if err := repo.UpdateServer(ctx, 9999, ServerUpdate{IsActive: &inactive}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("update missing server err = %v, want ErrNoRows", err)
	}
}

func TestHasRecentTriggerInclusiveBoundary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	serverID := seedServer(t, repo)
	ruleID, err := repo.CreateRule(ctx, models.AlertRule{Name: "r", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: ">", IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	if _, err := repo.CreateEvent(ctx, models.AlertEvent{
		AlertRuleID: ruleID, ServerID: serverID, MetricName: "m", Value: 5,
		Status: models.StatusTriggered, CreatedAt: now.Add(-300 * time.Second),
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}

	// Exactly at the window edge still suppresses.
	recent, err := repo.HasRecentTrigger(ctx, ruleID, 300, now)
	if err != nil {
		t.Fatalf("has recent trigger: %v", err)
	}
	if !recent {
		t.Fatal("event at the boundary should suppress")
	}

	recent, err = repo.HasRecentTrigger(ctx, ruleID, 299, now)
	if err != nil {
		t.Fatalf("has recent trigger: %v", err)
	}
	if recent {
		t.Fatal("event outside the window should not suppress")
	}
}

func TestHasRecentTriggerIgnoresResolvedEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	serverID := seedServer(t, repo)
	ruleID, err := repo.CreateRule(ctx, models.AlertRule{Name: "r", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: ">", IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	if _, err := repo.CreateEvent(ctx, models.AlertEvent{
		AlertRuleID: ruleID, ServerID: serverID, MetricName: "m", Value: 5,
		Status: models.StatusResolved, CreatedAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	recent, err := repo.HasRecentTrigger(ctx, ruleID, 300, now)
	if err != nil {
		t.Fatalf("has recent trigger: %v", err)
	}
	if recent {
		t.Fatal("resolved event should not suppress a trigger")
	}
}

func TestListEventsNewestFirstWithFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	serverID := seedServer(t, repo)
	ruleID, err := repo.CreateRule(ctx, models.AlertRule{Name: "r", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: ">", IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	base := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateEvent(ctx, models.AlertEvent{
			AlertRuleID: ruleID, ServerID: serverID, MetricName: "m", Value: float64(i),
			Status: models.StatusTriggered, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("create event %d: %v", i, err)
		}
	}

	events, err := repo.ListEvents(ctx, EventFilter{RuleID: &ruleID, Limit: 2})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Value != 2 || events[1].Value != 1 {
		t.Fatalf("expected newest first, got values %v, %v", events[0].Value, events[1].Value)
	}

	status := models.StatusResolved
	events, err = repo.ListEvents(ctx, EventFilter{Status: &status})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("resolved events = %d, want 0", len(events))
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	serverID := seedServer(t, repo)
	ruleID, err := repo.CreateRule(ctx, models.AlertRule{Name: "r", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: ">", IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	ages := []time.Duration{-40 * 24 * time.Hour, -10 * 24 * time.Hour, -time.Hour}
	for _, age := range ages {
		if _, err := repo.CreateEvent(ctx, models.AlertEvent{
			AlertRuleID: ruleID, ServerID: serverID, MetricName: "m", Value: 1,
			Status: models.StatusTriggered, CreatedAt: now.Add(age),
		}); err != nil {
			t.Fatalf("create event: %v", err)
		}
	}
	deleted, err := repo.DeleteEventsBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete events: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	events, err := repo.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("remaining events = %d, want 2", len(events))
	}
}

func TestDeleteServerCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	serverID := seedServer(t, repo)
	ruleID, err := repo.CreateRule(ctx, models.AlertRule{Name: "r", ServerID: serverID, MetricName: "m", PromQL: "q", Threshold: 1, Comparison: ">", IsActive: true})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := repo.CreateEvent(ctx, models.AlertEvent{
		AlertRuleID: ruleID, ServerID: serverID, MetricName: "m", Value: 1,
		Status: models.StatusTriggered, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}

	if err := repo.DeleteServer(ctx, serverID); err != nil {
		t.Fatalf("delete server: %v", err)
	}
	if _, err := repo.GetRule(ctx, ruleID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("rule survived cascade: %v", err)
	}
	events, err := repo.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events survived cascade: %d", len(events))
	}
}

func TestUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	n, err := repo.CountUsers(ctx)
	if err != nil || n != 0 {
		t.Fatalf("count = %d err = %v, want 0", n, err)
	}
	id, err := repo.CreateUser(ctx, "admin@example.com", "hash", true)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	u, err := repo.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if u.ID != id || !u.IsSuperuser || u.HashedPassword != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := repo.CreateUser(ctx, "admin@example.com", "hash2", false); err == nil {
		t.Fatal("duplicate email accepted")
	}
}
