package lro

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/api/client"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/shared/clock"
)

// Terminal operation statuses. Exact strings; the API contract is
// case-sensitive.
const (
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
)

// operationState is the polling body contract.
type operationState struct {
	Status          string  `json:"status"`
	PercentComplete float64 `json:"percentComplete"`
}

// Observer is notified once per completed Await with the terminal status
// and the number of polls it took.
type Observer func(outcome string, polls int)

// Poller drives deferred operations to completion.
type Poller struct {
	sender   client.Sender
	clock    clock.Clock
	logger   *logging.Logger
	observer Observer
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock injects the time source. Tests use a fake.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the poller logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Poller) { p.logger = l.Named("lro") }
}

// WithObserver registers a completion observer, for metrics.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// New creates a Poller issuing polls through sender.
func New(sender client.Sender, opts ...Option) *Poller {
	p := &Poller{
		sender: sender,
		clock:  clock.Real(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await resolves initial to its final result.
//
// Anything other than 202 returns unchanged: most calls complete
// synchronously. A 202 without both Location and Operation-Id headers also
// returns unchanged; it cannot be polled, and the caller is better placed
// to decide what a malformed deferral means. Transport errors during
// polling propagate untouched.
func (p *Poller) Await(ctx context.Context, initial *client.Response) (*client.Response, error) {
	if initial.Status != http.StatusAccepted {
		return initial, nil
	}

	location := initial.Header("Location")
	operationID := initial.Header("Operation-Id")
	if location == "" || operationID == "" {
		p.logger.Debug("deferred response missing polling headers",
			zap.Bool("has_location", location != ""),
			zap.Bool("has_operation_id", operationID != ""))
		return initial, nil
	}

	interval := pollInterval(initial.Header("Retry-After"))
	p.logger.Debug("operation accepted",
		zap.String("operation_id", operationID),
		zap.Duration("interval", interval))

	polls := 0
	var state operationState
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(interval):
		}

		resp, err := p.sender.SendRequest(ctx, client.Request{
			Method: http.MethodGet,
			Path:   location,
		})
		if err != nil {
			return nil, err
		}
		polls++

		state = operationState{}
		// A body we cannot read has no terminal status; keep polling.
		_ = resp.Decode(&state)
		p.logger.Debug("operation polled",
			zap.String("operation_id", operationID),
			zap.String("status", state.Status),
			zap.Float64("percent", state.PercentComplete),
			zap.Int("polls", polls))

		if state.Status == StatusSucceeded || state.Status == StatusFailed {
			break
		}
	}

	if p.observer != nil {
		p.observer(state.Status, polls)
	}

	// The result endpoint is fetched for failures too; the final response's
	// own status and body are what the caller acts on.
	return p.sender.SendRequest(ctx, client.Request{
		Method: http.MethodGet,
		Path:   strings.TrimSuffix(location, "/") + "/result",
	})
}

// pollInterval derives the loop interval from the server's Retry-After
// seconds: a fifth of the suggestion, floored, never below one second.
// Operations typically finish well ahead of the advertised wait.
func pollInterval(retryAfter string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds < 5 {
		return time.Second
	}
	return time.Duration(seconds/5) * time.Second
}
