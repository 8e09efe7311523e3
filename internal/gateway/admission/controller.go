// Package admission enforces tier-based rate limits over the shared counter
// store. Limits are fixed-window: a per-minute request window and a per-hour
// token window, each keyed on the window start and expiring with the window.
// The check-then-increment is not atomic; a race can admit marginally more
// than the limit under concurrent load, which is accepted soft-limit
// behavior.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// CounterStore is the shared windowed-counter contract, backed by Redis.
type CounterStore interface {
	GetCount(ctx context.Context, key string) (int64, error)
	IncrWindow(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error)
}

// Decision is the outcome of an admission check. Limit, Remaining, and
// ResetAfterSeconds describe the request-per-minute dimension unless the
// token window was the one exceeded.
type Decision struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	ResetAfterSeconds int64
	FailOpen          bool
}

// Controller applies tier limits to inbound requests.
type Controller struct {
	store   CounterStore
	enabled bool

	now func() time.Time
}

// NewController creates an admission controller over the counter store.
// When disabled, every request is admitted.
func NewController(store CounterStore, enabled bool) *Controller {
	return &Controller{
		store:   store,
		enabled: enabled,
		now:     time.Now,
	}
}

func requestKey(userID string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:req:%s:%d", userID, windowStart)
}

func tokenKey(userID string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:tok:%s:%d", userID, windowStart)
}

// CheckAndConsume admits or denies one request for the user. Admin-tier
// users are exempt unconditionally. On a counter-store failure the
// controller fails open and reports it.
func (c *Controller) CheckAndConsume(ctx context.Context, userID string, tier models.Tier, estimatedTokens int64) Decision {
	if tier == models.TierAdmin {
		return Decision{Allowed: true}
	}
	if !c.enabled {
		return Decision{Allowed: true, FailOpen: true}
	}

	limits := LimitsFor(tier)
	now := c.now().Unix()
	minuteStart := now - now%60
	hourStart := now - now%3600
	minuteReset := minuteStart + 60 - now
	hourReset := hourStart + 3600 - now

	requests, err := c.store.GetCount(ctx, requestKey(userID, minuteStart))
	if err != nil {
		return c.failOpen(userID, err)
	}
	if requests >= limits.RequestsPerMinute {
		return Decision{
			Limit:             limits.RequestsPerMinute,
			Remaining:         0,
			ResetAfterSeconds: minuteReset,
		}
	}

	tokens, err := c.store.GetCount(ctx, tokenKey(userID, hourStart))
	if err != nil {
		return c.failOpen(userID, err)
	}
	if tokens+estimatedTokens >= limits.TokensPerHour {
		remaining := limits.TokensPerHour - tokens
		if remaining < 0 {
			remaining = 0
		}
		return Decision{
			Limit:             limits.TokensPerHour,
			Remaining:         remaining,
			ResetAfterSeconds: hourReset,
		}
	}

	newRequests, err := c.store.IncrWindow(ctx, requestKey(userID, minuteStart), 1, time.Minute)
	if err != nil {
		return c.failOpen(userID, err)
	}
	if estimatedTokens > 0 {
		if _, err := c.store.IncrWindow(ctx, tokenKey(userID, hourStart), estimatedTokens, time.Hour); err != nil {
			return c.failOpen(userID, err)
		}
	}

	remaining := limits.RequestsPerMinute - newRequests
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:           true,
		Limit:             limits.RequestsPerMinute,
		Remaining:         remaining,
		ResetAfterSeconds: minuteReset,
	}
}

func (c *Controller) failOpen(userID string, err error) Decision {
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"error":   err,
	}).Warn("counter store unreachable, admitting request")
	return Decision{Allowed: true, FailOpen: true}
}
