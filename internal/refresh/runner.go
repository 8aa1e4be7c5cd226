package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p2pdesk/sellbot/internal/alert"
	"github.com/p2pdesk/sellbot/internal/metrics"
	"github.com/p2pdesk/sellbot/internal/position"
	"github.com/p2pdesk/sellbot/internal/threshold"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultConcurrency = 8
)

// PriceSource returns the current fiat price for a batch of asset symbols.
type PriceSource interface {
	Quotes(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Store is the slice of the position store a refresh cycle touches.
type Store interface {
	SetMarketPrice(ctx context.Context, asset string, price float64) error
	ListHolders(ctx context.Context, asset string) ([]position.Holder, error)
	SetThreshold(ctx context.Context, username, asset, summary string) error
}

// Notifier delivers one crossing alert to one holder.
type Notifier interface {
	Dispatch(ctx context.Context, positive bool, username, asset, summary string) error
}

// Runner executes one refresh cycle per call: fetch all prices, then
// evaluate and alert every holder of every supported asset. Cycles hold no
// state between runs, so overlapping triggers are tolerated with last-write
// wins on the persisted threshold strings.
type Runner struct {
	source      PriceSource
	store       Store
	engine      *threshold.Engine
	notifier    Notifier
	logger      *slog.Logger
	assets      []string
	callTimeout time.Duration
	concurrency int
}

func NewRunner(source PriceSource, store Store, engine *threshold.Engine, notifier Notifier, logger *slog.Logger, assets []string) *Runner {
	return &Runner{
		source:      source,
		store:       store,
		engine:      engine,
		notifier:    notifier,
		logger:      logger,
		assets:      assets,
		callTimeout: defaultCallTimeout,
		concurrency: defaultConcurrency,
	}
}

// Run performs one cycle. Only a failed price fetch is a run-level error,
// and a failed fetch mutates nothing. Every per-holder problem is logged
// and skipped so sibling holders and assets still get evaluated; Run does
// not return until all spawned holder work has finished.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	prices, err := r.source.Quotes(fetchCtx, r.assets)
	cancel()
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("fetch_failed").Inc()
		return fmt.Errorf("fetch market prices: %w", err)
	}

	for _, asset := range r.assets {
		r.runAsset(ctx, asset, prices[asset])
	}

	metrics.RefreshTotal.WithLabelValues("completed").Inc()
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	r.logger.Info("refresh cycle completed",
		"assets", len(r.assets), "duration", time.Since(start).String())
	return nil
}

func (r *Runner) runAsset(ctx context.Context, asset string, price float64) {
	metrics.MarketPrice.WithLabelValues(asset).Set(price)
	if err := r.withTimeout(ctx, func(c context.Context) error {
		return r.store.SetMarketPrice(c, asset, price)
	}); err != nil {
		r.logger.Error("persist market price failed", "asset", asset, "error", err)
	}

	var holders []position.Holder
	err := r.withTimeout(ctx, func(c context.Context) error {
		var lerr error
		holders, lerr = r.store.ListHolders(c, asset)
		return lerr
	})
	if err != nil {
		r.logger.Error("list holders failed", "asset", asset, "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, h := range holders {
		h := h
		g.Go(func() error {
			r.evaluateHolder(gctx, asset, price, h)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) evaluateHolder(ctx context.Context, asset string, price float64, h position.Holder) {
	metrics.HoldersEvaluatedTotal.WithLabelValues(asset).Inc()

	ev, err := r.engine.Evaluate(price, h.BuyPrice, h.Balance)
	if err != nil {
		r.logger.Warn("holder not evaluable", "user", h.Username, "asset", asset, "error", err)
		return
	}
	summary := ev.Summary(r.engine.Fiat())

	// Persist first: the stored threshold must reflect this cycle's price
	// even when the notification afterwards fails.
	if err := r.withTimeout(ctx, func(c context.Context) error {
		return r.store.SetThreshold(c, h.Username, asset, summary)
	}); err != nil {
		r.logger.Error("persist threshold failed", "user", h.Username, "asset", asset, "error", err)
	}

	if !ev.Crossed() {
		return
	}

	err = r.withTimeout(ctx, func(c context.Context) error {
		return r.notifier.Dispatch(c, ev.CrossedPositive, h.Username, asset, summary)
	})
	switch {
	case err == nil:
	case errors.Is(err, alert.ErrUnknownRecipient):
		r.logger.Warn("holder has no chat binding", "user", h.Username, "asset", asset)
	default:
		r.logger.Error("alert dispatch failed", "user", h.Username, "asset", asset, "error", err)
	}
}

func (r *Runner) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return fn(c)
}
