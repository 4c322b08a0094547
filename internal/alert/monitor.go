// Package alert implements price alerts: user CRUD over alert rules and the
// background monitor that polls quotes and fires pending alerts exactly once.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/papertrade/engine/internal/bus"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/store"
)

// DefaultInterval is the monitor's tick period.
const DefaultInterval = 5 * time.Second

// Monitor is the background alert poller. One instance runs per process;
// ticks are strictly sequential: a tick runs to completion before the next
// is scheduled.
type Monitor struct {
	store    store.Store
	quotes   quote.Source
	events   *bus.Bus
	interval time.Duration
}

// NewMonitor creates a monitor. events may be nil (tests).
func NewMonitor(st store.Store, quotes quote.Source, events *bus.Bus) *Monitor {
	return &Monitor{
		store:    st,
		quotes:   quotes,
		events:   events,
		interval: DefaultInterval,
	}
}

// Run executes ticks until ctx is done. Tick errors are logged and swallowed;
// the loop itself never fails.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("alert monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alert monitor stopped")
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				metrics.MonitorTicks.WithLabelValues("error").Inc()
				slog.Error("alert monitor tick failed", "err", err)
			} else {
				metrics.MonitorTicks.WithLabelValues("ok").Inc()
			}
		}
	}
}

// Tick runs one scan: load pending alerts, batch them per symbol so the
// quote gateway is queried at most once per distinct symbol, evaluate, and
// conditionally trigger. One alertsUpdated event is published per tick iff
// anything newly triggered, no matter how many alerts hit.
func (m *Monitor) Tick(ctx context.Context) error {
	pending, err := m.store.ListPendingAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	bySymbol := make(map[string][]model.Alert)
	for _, a := range pending {
		bySymbol[a.Symbol] = append(bySymbol[a.Symbol], a)
	}

	triggeredAny := false

	for symbol, group := range bySymbol {
		q, err := m.quotes.Quote(ctx, symbol)
		if err != nil {
			// Transient provider failure: the whole group stays pending and
			// is retried next tick.
			slog.Warn("quote fetch failed, skipping symbol this tick",
				"symbol", symbol, "alerts", len(group), "err", err)
			continue
		}
		if !q.Valid() {
			continue
		}

		for i := range group {
			a := &group[i]
			if !a.Hit(q.Current) {
				continue
			}

			// Conditional flip: only the caller that actually performed the
			// false-to-true transition counts the trigger. A racing tick or a
			// manual trigger on the same alert loses harmlessly.
			flipped, err := m.store.TryTriggerAlert(ctx, a.ID, a.UserID)
			if err != nil {
				slog.Error("alert trigger failed", "alert", a.ID, "err", err)
				continue
			}
			if flipped {
				triggeredAny = true
				metrics.AlertsTriggered.Inc()
				slog.Info("alert triggered",
					"alert", a.ID, "user", a.UserID, "symbol", symbol,
					"condition", a.Condition,
					"target", a.TargetPrice.String(), "price", q.Current.String())
			}
		}
	}

	if triggeredAny && m.events != nil {
		m.events.Publish(bus.EventAlertsUpdated)
	}

	return nil
}
