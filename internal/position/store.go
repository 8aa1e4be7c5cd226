package position

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p2pdesk/sellbot/internal/metrics"
)

// ErrNotBound is returned when a username has no chat binding yet, i.e. the
// user never talked to the bot.
var ErrNotBound = errors.New("position: no chat binding for user")

const (
	positionPrefix    = "crypto:position:"
	chatBindingPrefix = "crypto:chatBinding:"
	marketPricePrefix = "crypto:marketPrice:"
	counterPositive   = "crypto:signalCounter:positive"
	counterNegative   = "crypto:signalCounter:negative"

	defaultScanCount = 100
)

// Position is one user's recorded holding in one asset. BuyPrice and
// Threshold carry ok-flags instead of sentinel strings; rendering "N/A" or
// "+0.0%" for absent values is the chat layer's job.
type Position struct {
	Balance      float64
	BuyPrice     float64
	HasBuyPrice  bool
	Threshold    string
	HasThreshold bool
}

// Holder is a user that can actually be evaluated: both balance and buy
// price are present and numeric.
type Holder struct {
	Username string
	Balance  float64
	BuyPrice float64
}

// Store is the Redis facade holding positions, chat bindings, market prices
// and the two system-wide signal counters.
type Store struct {
	rdb       *redis.Client
	scanCount int64
}

// New connects to Redis and verifies the connection. scanCount caps how many
// keys one SCAN page may touch; <= 0 falls back to a sane default.
func New(redisURL, password string, scanCount int) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if scanCount <= 0 {
		scanCount = defaultScanCount
	}
	return &Store{rdb: rdb, scanCount: int64(scanCount)}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func positionKey(username, asset string) string {
	return positionPrefix + username + ":" + asset
}

// Position reads a user's record for one asset. A missing record comes back
// as the zero Position, not an error.
func (s *Store) Position(ctx context.Context, username, asset string) (Position, error) {
	fields, err := s.rdb.HGetAll(ctx, positionKey(username, asset)).Result()
	if err != nil {
		return Position{}, fmt.Errorf("read position %s/%s: %w", username, asset, err)
	}

	var p Position
	if v, ok := fields["balance"]; ok {
		if bal, err := strconv.ParseFloat(v, 64); err == nil {
			p.Balance = bal
		}
	}
	if v, ok := fields["buyPrice"]; ok {
		if bp, err := strconv.ParseFloat(v, 64); err == nil {
			p.BuyPrice = bp
			p.HasBuyPrice = true
		}
	}
	if v, ok := fields["threshold"]; ok && v != "" {
		p.Threshold = v
		p.HasThreshold = true
	}
	return p, nil
}

// UpdatePosition overwrites a user's balance and buy price in one write.
// This is the only write path for those two fields.
func (s *Store) UpdatePosition(ctx context.Context, username, asset string, balance, buyPrice float64) error {
	err := s.rdb.HSet(ctx, positionKey(username, asset),
		"balance", strconv.FormatFloat(balance, 'f', -1, 64),
		"buyPrice", strconv.FormatFloat(buyPrice, 'f', -1, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("update position %s/%s: %w", username, asset, err)
	}
	return nil
}

// SetThreshold overwrites the last computed threshold string. Last write
// wins: a concurrent balance update between the read that produced summary
// and this write is accepted, the next cycle recomputes from live state.
func (s *Store) SetThreshold(ctx context.Context, username, asset, summary string) error {
	if err := s.rdb.HSet(ctx, positionKey(username, asset), "threshold", summary).Err(); err != nil {
		return fmt.Errorf("set threshold %s/%s: %w", username, asset, err)
	}
	return nil
}

// ListHolders enumerates every user with an evaluable record for asset. The
// SCAN is drained to the final cursor before anything is returned, so the
// result is never a partial page. Records missing either numeric field, or
// holding something unparseable, are skipped.
func (s *Store) ListHolders(ctx context.Context, asset string) ([]Holder, error) {
	pattern := positionPrefix + "*:" + asset

	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64
	for {
		page, next, err := s.rdb.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan holders for %s: %w", asset, err)
		}
		for _, k := range page {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	holders := make([]Holder, 0, len(keys))
	for _, key := range keys {
		username, ok := usernameFromKey(key, asset)
		if !ok {
			continue
		}

		vals, err := s.rdb.HMGet(ctx, key, "balance", "buyPrice").Result()
		if err != nil {
			return nil, fmt.Errorf("read holder %s: %w", key, err)
		}

		balance, ok := parseField(vals[0])
		if !ok {
			metrics.HoldersSkippedTotal.WithLabelValues(asset, "balance").Inc()
			continue
		}
		buyPrice, ok := parseField(vals[1])
		if !ok {
			metrics.HoldersSkippedTotal.WithLabelValues(asset, "buy_price").Inc()
			continue
		}

		holders = append(holders, Holder{Username: username, Balance: balance, BuyPrice: buyPrice})
	}
	return holders, nil
}

func usernameFromKey(key, asset string) (string, bool) {
	rest, ok := strings.CutPrefix(key, positionPrefix)
	if !ok {
		return "", false
	}
	username, ok := strings.CutSuffix(rest, ":"+asset)
	if !ok || username == "" {
		return "", false
	}
	return username, true
}

// parseField turns a raw HMGET value into a float. Absent fields and
// non-numeric garbage both come back not-ok.
func parseField(raw interface{}) (float64, bool) {
	str, ok := raw.(string)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// BindChat records where to reach a username. Rebinding overwrites.
func (s *Store) BindChat(ctx context.Context, username string, chatID int64) error {
	if err := s.rdb.Set(ctx, chatBindingPrefix+username, chatID, 0).Err(); err != nil {
		return fmt.Errorf("bind chat for %s: %w", username, err)
	}
	return nil
}

// ChatID resolves a username to its chat destination.
func (s *Store) ChatID(ctx context.Context, username string) (int64, error) {
	v, err := s.rdb.Get(ctx, chatBindingPrefix+username).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrNotBound, username)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve chat for %s: %w", username, err)
	}
	return v, nil
}

// SetMarketPrice stores the latest fetched price for an asset.
func (s *Store) SetMarketPrice(ctx context.Context, asset string, price float64) error {
	err := s.rdb.Set(ctx, marketPricePrefix+asset, strconv.FormatFloat(price, 'f', -1, 64), 0).Err()
	if err != nil {
		return fmt.Errorf("set market price %s: %w", asset, err)
	}
	return nil
}

// MarketPrice returns the last stored price for an asset; ok is false when
// no refresh has stored one yet.
func (s *Store) MarketPrice(ctx context.Context, asset string) (float64, bool, error) {
	v, err := s.rdb.Get(ctx, marketPricePrefix+asset).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get market price %s: %w", asset, err)
	}
	return v, true, nil
}

// IncrSignalCounter bumps the system-wide counter for one alert polarity.
func (s *Store) IncrSignalCounter(ctx context.Context, positive bool) error {
	key := counterNegative
	if positive {
		key = counterPositive
	}
	return s.rdb.Incr(ctx, key).Err()
}

// SignalCounters reads both counters; never-incremented counters read 0.
func (s *Store) SignalCounters(ctx context.Context) (positive, negative int64, err error) {
	positive, err = s.counter(ctx, counterPositive)
	if err != nil {
		return 0, 0, err
	}
	negative, err = s.counter(ctx, counterNegative)
	if err != nil {
		return 0, 0, err
	}
	return positive, negative, nil
}

func (s *Store) counter(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return v, nil
}
