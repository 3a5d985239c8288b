package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/metrics"
	"vigil/internal/models"
	"vigil/internal/notifier"
)

// Store is the slice of the repository the engine reads and appends to.
type Store interface {
	ListActiveRules(ctx context.Context) ([]models.AlertRule, error)
	GetServer(ctx context.Context, id int64) (models.Server, error)
	HasRecentTrigger(ctx context.Context, ruleID int64, withinSec int, now time.Time) (bool, error)
	CreateEvent(ctx context.Context, e models.AlertEvent) (int64, error)
}

// MetricsSource answers a point-in-time query by instantaneous value.
// ok is false when no usable value exists; the source never errors.
type MetricsSource interface {
	Query(ctx context.Context, expr string) (float64, bool)
}

// Notifier delivers a formatted alert; the boolean is the only outcome a
// caller sees.
type Notifier interface {
	SendAlert(ctx context.Context, a notifier.Alert) bool
}

// Engine walks the active alert rules on each sweep, queries the metrics
// source, and records and dispatches triggered alerts with repeat-interval
// dedup.
type Engine struct {
	store         Store
	source        MetricsSource
	notify        Notifier
	log           *slog.Logger
	now           func() time.Time
	maxConcurrent int

	sweeping atomic.Bool

	mu        sync.Mutex
	ruleLocks map[int64]*sync.Mutex
}

func NewEngine(store Store, source MetricsSource, notify Notifier, logger *slog.Logger, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Engine{
		store:         store,
		source:        source,
		notify:        notify,
		log:           logger,
		now:           time.Now,
		maxConcurrent: maxConcurrent,
		ruleLocks:     map[int64]*sync.Mutex{},
	}
}

// Sweep evaluates every active rule once. Rules run concurrently under a
// bounded limit; a failing rule is logged and never stops its siblings.
// If the previous sweep is still in flight the tick is skipped rather
// than overlapped.
func (e *Engine) Sweep(ctx context.Context) {
	if !e.sweeping.CompareAndSwap(false, true) {
		e.log.Warn("previous sweep still running, skipping tick")
		return
	}
	defer e.sweeping.Store(false)

	start := time.Now()
	rules, err := e.store.ListActiveRules(ctx)
	if err != nil {
		e.log.Error("load active rules", "err", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)
	for _, r := range rules {
		rule := r
		g.Go(func() error {
			if err := e.evaluateRule(ctx, rule); err != nil {
				e.log.Error("rule evaluation failed", "rule_id", rule.ID, "rule", rule.Name, "err", err)
				metrics.RuleEvaluationsTotal.WithLabelValues("error").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
}

// evaluateRule runs one rule through resolve -> fetch -> compare -> dedup ->
// record -> notify. The event is persisted before the notification goes out:
// a dispatch failure never loses the record, and a persistence failure
// suppresses the dispatch.
func (e *Engine) evaluateRule(ctx context.Context, rule models.AlertRule) error {
	lock := e.ruleLock(rule.ID)
	lock.Lock()
	defer lock.Unlock()

	server, err := e.store.GetServer(ctx, rule.ServerID)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RuleEvaluationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve server: %w", err)
	}
	if !server.IsActive {
		// Expected steady state, not a failure. No fetch is issued.
		metrics.RuleEvaluationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	value, ok := e.source.Query(ctx, rule.PromQL)
	if !ok {
		metrics.RuleEvaluationsTotal.WithLabelValues("no_data").Inc()
		return nil
	}

	if !compare(value, rule.Threshold, rule.Comparison) {
		// The ledger knows a "resolved" status but nothing emits it yet:
		// a trigger that clears produces no event on this path.
		metrics.RuleEvaluationsTotal.WithLabelValues("ok").Inc()
		return nil
	}

	now := e.now().UTC()
	recent, err := e.store.HasRecentTrigger(ctx, rule.ID, rule.RepeatIntervalSec, now)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if recent {
		metrics.RuleEvaluationsTotal.WithLabelValues("suppressed").Inc()
		return nil
	}

	event := models.AlertEvent{
		AlertRuleID: rule.ID,
		ServerID:    server.ID,
		MetricName:  rule.MetricName,
		Value:       value,
		Status:      models.StatusTriggered,
		CreatedAt:   now,
	}
	if _, err := e.store.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("record alert event: %w", err)
	}
	metrics.AlertEventsTotal.Inc()
	metrics.RuleEvaluationsTotal.WithLabelValues("triggered").Inc()
	e.log.Info("alert triggered", "rule_id", rule.ID, "rule", rule.Name, "server", server.Name, "value", value)

	if rule.Channel == models.ChannelTelegram {
		sent := e.notify.SendAlert(ctx, notifier.Alert{
			ServerName: server.Name,
			RuleName:   rule.Name,
			MetricName: rule.MetricName,
			Value:      value,
			Threshold:  rule.Threshold,
			Comparison: rule.Comparison,
			Status:     models.StatusTriggered,
		})
		if sent {
			metrics.NotificationsTotal.WithLabelValues("sent").Inc()
		} else {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			e.log.Warn("notification delivery failed", "rule_id", rule.ID, "rule", rule.Name)
		}
	}
	return nil
}

// ruleLock serializes evaluation per rule so two concurrent evaluations of
// the same rule cannot both pass the dedup check and double-notify.
func (e *Engine) ruleLock(ruleID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.ruleLocks[ruleID]
	if !ok {
		l = &sync.Mutex{}
		e.ruleLocks[ruleID] = l
	}
	return l
}

// compare applies one of the six comparison operators. An unrecognized
// operator is "no match": store-boundary validation is the sole gatekeeper,
// so a rule reaching evaluation already carries a valid operator. Equality
// is exact floating-point comparison, no epsilon tolerance.
func compare(value, threshold float64, op string) bool {
	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	}
	return false
}
