// Package position
package position

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vnquant/signalbot/internal/db"
	"github.com/vnquant/signalbot/internal/exchange"
	"github.com/vnquant/signalbot/internal/journal"
	"github.com/vnquant/signalbot/internal/notifier"
	"github.com/vnquant/signalbot/internal/signal"
)

// Tracker watches executed signals and closes them when price crosses the
// stop-loss or take-profit, or when the holding period runs out.
type Tracker struct {
	store          db.Storage
	exch           exchange.Exchange
	notif          notifier.Notifier
	maxHoldingDays int

	now func() time.Time
}

func NewTracker(store db.Storage, exch exchange.Exchange, notif notifier.Notifier, maxHoldingDays int) *Tracker {
	if maxHoldingDays <= 0 {
		maxHoldingDays = 20
	}
	return &Tracker{
		store:          store,
		exch:           exch,
		notif:          notif,
		maxHoldingDays: maxHoldingDays,
		now:            time.Now,
	}
}

// Run checks open positions on the given interval until the context ends.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Run | Position tracker stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if err := t.CheckOnce(ctx); err != nil {
				log.Printf("Run | Error checking positions: %v", err)
			}
		}
	}
}

// CheckOnce fetches the latest price for every symbol with open positions and
// closes whatever has hit its exit condition.
func (t *Tracker) CheckOnce(ctx context.Context) error {
	open, err := t.store.GetOpenSignals(ctx)
	if err != nil {
		return fmt.Errorf("loading open signals: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	prices := make(map[string]float64)
	for _, s := range open {
		if _, ok := prices[s.Symbol]; ok {
			continue
		}
		price, err := t.exch.FetchLatestPrice(ctx, s.Symbol)
		if err != nil {
			log.Printf("CheckOnce | Error fetching price for %s: %v", s.Symbol, err)
			continue
		}
		prices[s.Symbol] = price
	}

	for _, s := range open {
		price, ok := prices[s.Symbol]
		if !ok {
			continue
		}

		holdingDays := int(t.now().UTC().Sub(s.Timestamp) / (24 * time.Hour))

		var reason string
		switch {
		case price <= s.StopLoss:
			reason = signal.ClosedStopLoss
		case price >= s.TakeProfit:
			reason = signal.ClosedTakeProfit
		case holdingDays >= t.maxHoldingDays:
			reason = signal.ClosedTimeout
		default:
			continue
		}

		if err := t.close(ctx, s, price, reason, holdingDays); err != nil {
			log.Printf("CheckOnce | Error closing signal %s: %v", s.ID, err)
		}
	}

	return nil
}

func (t *Tracker) close(ctx context.Context, s signal.Signal, price float64, reason string, holdingDays int) error {
	plPct := (price - s.ExecutionPrice) / s.ExecutionPrice * 100
	closedAt := t.now().UTC()

	if err := t.store.CloseSignal(ctx, s.ID, price, reason, plPct, holdingDays, closedAt); err != nil {
		return err
	}

	log.Printf("close | %s %s closed (%s): entry=%.2f, exit=%.2f, pl=%.2f%%",
		s.Symbol, s.ID, reason, s.ExecutionPrice, price, plPct)

	if err := t.store.LogEvent(ctx, journal.Event{
		Time:        closedAt,
		Type:        journal.TypePosition,
		Description: fmt.Sprintf("position closed for %s", s.Symbol),
		Data: map[string]any{
			"signal_id": s.ID,
			"symbol":    s.Symbol,
			"reason":    reason,
			"pl_pct":    plPct,
		},
	}); err != nil {
		log.Printf("close | Error journaling close for %s: %v", s.ID, err)
	}

	s.IsClosed = true
	s.ClosePrice = price
	s.CloseReason = reason
	s.ProfitLossPct = plPct
	if t.notif != nil {
		if err := t.notif.SendWithRetry(notifier.FormatClose(s)); err != nil {
			log.Printf("close | Error notifying close for %s: %v", s.ID, err)
		}
	}

	return nil
}
