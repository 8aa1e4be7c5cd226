package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/p2pdesk/sellbot/internal/metrics"
	"github.com/p2pdesk/sellbot/internal/position"
)

// ErrUnknownRecipient means the username has no chat binding, so there is
// nowhere to deliver the alert. Callers skip the holder and move on.
var ErrUnknownRecipient = errors.New("alert: unknown recipient")

// Sender delivers a formatted message to a chat destination.
type Sender func(chatID int64, text string) error

// Directory resolves usernames to chat destinations and tracks the two
// system-wide signal counters.
type Directory interface {
	ChatID(ctx context.Context, username string) (int64, error)
	IncrSignalCounter(ctx context.Context, positive bool) error
}

// Recorder persists a delivered alert for auditing.
type Recorder interface {
	Insert(ctx context.Context, username, asset, direction, threshold string) error
}

// Dispatcher turns a threshold crossing into exactly one outgoing
// notification. Every failure is scoped to the one recipient: nothing here
// may take down the refresh cycle that called it.
type Dispatcher struct {
	dir     Directory
	send    Sender
	history Recorder
	logger  *slog.Logger
}

// NewDispatcher wires a dispatcher. history may be nil when no audit store
// is configured.
func NewDispatcher(dir Directory, send Sender, history Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{dir: dir, send: send, history: history, logger: logger}
}

// Dispatch notifies username that its asset position crossed a boundary.
// summary is the already-formatted threshold string.
func (d *Dispatcher) Dispatch(ctx context.Context, positive bool, username, asset, summary string) error {
	chatID, err := d.dir.ChatID(ctx, username)
	if err != nil {
		if errors.Is(err, position.ErrNotBound) {
			metrics.AlertsFailedTotal.WithLabelValues(asset, "unknown_recipient").Inc()
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, username)
		}
		metrics.AlertsFailedTotal.WithLabelValues(asset, "directory").Inc()
		return fmt.Errorf("resolve recipient %s: %w", username, err)
	}

	// Best effort: a lost increment under a concurrent cycle is accepted.
	if err := d.dir.IncrSignalCounter(ctx, positive); err != nil {
		d.logger.Warn("signal counter increment failed",
			"user", username, "asset", asset, "error", err)
	}

	direction := "loss"
	if positive {
		direction = "gain"
	}

	if err := d.send(chatID, formatAlert(positive, username, asset, summary)); err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(asset, "delivery").Inc()
		return fmt.Errorf("deliver alert to %s: %w", username, err)
	}
	metrics.AlertsSentTotal.WithLabelValues(asset, direction).Inc()

	if d.history != nil {
		if err := d.history.Insert(ctx, username, asset, direction, summary); err != nil {
			d.logger.Warn("alert history write failed",
				"user", username, "asset", asset, "error", err)
		}
	}
	return nil
}

func formatAlert(positive bool, username, asset, summary string) string {
	news, verb := "Bad news!", "loss"
	if positive {
		news, verb = "Good news!!", "gain"
	}
	return fmt.Sprintf("Hey %s <b>%s</b>\nIt's time to sell your <b>%s</b> because you have %s %s",
		username, news, asset, verb, summary)
}
