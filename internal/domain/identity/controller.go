package identity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/shared/clock"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// signInWaitCap bounds WaitForSignIn. Callers that need a longer window
// pass their own context deadline; the cap keeps an abandoned prompt from
// parking a goroutine forever.
const signInWaitCap = 60 * time.Second

// State is a snapshot of the controller's session state.
type State struct {
	SignedIn bool   `json:"signedIn"`
	TenantID string `json:"tenantId,omitempty"`
}

// TransitionObserver is notified on each sign-in state flip, for metrics.
type TransitionObserver func(signedIn bool)

// Controller linearizes session transitions and fans out change events.
type Controller struct {
	provider Provider
	store    *store.Store
	clock    clock.Clock
	logger   *logging.Logger
	observer TransitionObserver

	// mu guards state and serializes the transition handler.
	mu    sync.Mutex
	state State

	signInChanged *events.Feed[events.Signal]
	tenantChanged *events.Feed[events.Signal]
	sub           *events.Subscription
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l.Named("identity") }
}

// WithClock injects the time source for the sign-in wait.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithTransitionObserver registers a metrics observer.
func WithTransitionObserver(o TransitionObserver) Option {
	return func(c *Controller) { c.observer = o }
}

// NewController creates a Controller over the given provider and settings
// store. Call Start before use.
func NewController(provider Provider, st *store.Store, opts ...Option) *Controller {
	c := &Controller{
		provider:      provider,
		store:         st,
		clock:         clock.Real(),
		logger:        logging.NewNop(),
		signInChanged: events.NewFeed[events.Signal](),
		tenantChanged: events.NewFeed[events.Signal](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads the remembered tenant, evaluates the session silently to set
// the baseline, and subscribes to the provider's session signal. The
// baseline evaluation emits nothing; events flow only for changes after
// Start.
func (c *Controller) Start(ctx context.Context) {
	var tenantID string
	c.store.View(func(s *store.Settings) {
		if s.CurrentTenant != nil {
			tenantID = s.CurrentTenant.TenantID
		}
	})

	signedIn := false
	if ok, err := c.provider.IsSignedIn(ctx, tenantID); err != nil {
		c.logger.Warn("initial session evaluation failed", zap.Error(err))
	} else {
		signedIn = ok
	}

	c.mu.Lock()
	c.state = State{SignedIn: signedIn, TenantID: tenantID}
	c.mu.Unlock()

	c.sub = c.provider.SessionChanged().Subscribe(func(events.Signal) {
		c.handleSessionChange()
	})

	c.logger.Info("session controller started",
		zap.Bool("signed_in", signedIn),
		zap.String("tenant", tenantID))
}

// Close cancels the provider subscription.
func (c *Controller) Close() {
	if c.sub != nil {
		c.sub.Cancel()
	}
}

// handleSessionChange re-evaluates the session under the transition lock.
// Only an actual flip updates state and emits; a redundant trigger that
// re-evaluates to the current state stays silent. Emissions happen after
// the lock is released so a subscriber may call back into the controller.
func (c *Controller) handleSessionChange() {
	ctx := context.Background()

	c.mu.Lock()
	signedIn, err := c.provider.IsSignedIn(ctx, c.state.TenantID)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("session re-evaluation failed", zap.Error(err))
		return
	}
	if signedIn == c.state.SignedIn {
		c.mu.Unlock()
		return
	}

	c.state.SignedIn = signedIn
	signedOut := !signedIn
	if signedOut {
		c.state.TenantID = ""
		if err := c.store.Mutate(func(s *store.Settings) {
			s.CurrentTenant = nil
			s.LoginState = false
		}); err != nil {
			c.logger.Warn("persisting sign-out failed", zap.Error(err))
		}
	}
	c.mu.Unlock()

	c.logger.Info("session transition", zap.Bool("signed_in", signedIn))
	if c.observer != nil {
		c.observer(signedIn)
	}
	c.signInChanged.Emit(events.Signal{})
	if signedOut {
		c.tenantChanged.Emit(events.Signal{})
	}
}

// IsSignedIn asks the provider silently, never prompting. Provider errors
// read as signed out.
func (c *Controller) IsSignedIn(ctx context.Context, tenantID string) bool {
	ok, err := c.provider.IsSignedIn(ctx, tenantID)
	if err != nil {
		c.logger.Debug("silent session check failed", zap.Error(err))
		return false
	}
	return ok
}

// SignIn acquires a session with prompting allowed. On success with a
// tenant different from the remembered one, the tenant is switched,
// persisted, and TenantChanged fires. The sign-in flip itself arrives
// through the provider's session signal.
func (c *Controller) SignIn(ctx context.Context, tenantID string) (bool, error) {
	ok, err := c.provider.SignIn(ctx, tenantID)
	if err != nil || !ok {
		return ok, err
	}

	// The provider fired its signal; evaluate now so callers observe the
	// new state as soon as SignIn returns, even if delivery was async.
	c.handleSessionChange()

	c.mu.Lock()
	switched := tenantID != "" && tenantID != c.state.TenantID
	if switched {
		c.state.TenantID = tenantID
	}
	c.mu.Unlock()

	if switched {
		record := c.resolveTenant(ctx, tenantID)
		if err := c.store.Mutate(func(s *store.Settings) {
			s.CurrentTenant = record
		}); err != nil {
			c.logger.Warn("persisting tenant switch failed", zap.Error(err))
		}
		c.logger.Info("tenant switched", zap.String("tenant", tenantID))
		c.tenantChanged.Emit(events.Signal{})
	}
	return true, nil
}

// SignOut drops the session. State flips through the transition handler,
// which also clears the remembered tenant.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		return err
	}
	c.handleSessionChange()
	return nil
}

// CurrentTenant resolves the remembered tenant id against the enumerated
// tenant list. Nil when signed out, nothing remembered, or the id is no
// longer enumerable.
func (c *Controller) CurrentTenant(ctx context.Context) *types.Tenant {
	c.mu.Lock()
	signedIn, tenantID := c.state.SignedIn, c.state.TenantID
	c.mu.Unlock()

	if !signedIn || tenantID == "" {
		return nil
	}
	for _, t := range c.Tenants(ctx) {
		if t.TenantID == tenantID {
			tenant := t
			return &tenant
		}
	}
	return nil
}

// Tenants enumerates reachable tenants. Enumeration failures surface as an
// empty list; callers treat empty as "retry later".
func (c *Controller) Tenants(ctx context.Context) []types.Tenant {
	tenants, err := c.provider.Tenants(ctx)
	if err != nil {
		c.logger.Warn("tenant enumeration failed", zap.Error(err))
		return nil
	}
	return tenants
}

// SessionInfo passes through to the provider.
func (c *Controller) SessionInfo(ctx context.Context) (*SessionInfo, error) {
	return c.provider.SessionInfo(ctx)
}

// State returns the current session snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SignInChanged is the sign-in state feed. Subscribers re-query State.
func (c *Controller) SignInChanged() *events.Feed[events.Signal] {
	return c.signInChanged
}

// TenantChanged is the tenant feed. Subscribers re-query CurrentTenant.
func (c *Controller) TenantChanged() *events.Feed[events.Signal] {
	return c.tenantChanged
}

// WaitForSignIn blocks until sign-in completes, the 60 second cap elapses,
// or ctx is done. The subscription is cancelled on every path.
func (c *Controller) WaitForSignIn(ctx context.Context) bool {
	done := make(chan struct{}, 1)
	sub := c.signInChanged.Subscribe(func(events.Signal) {
		if c.State().SignedIn {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Cancel()

	// Check after subscribing: a flip between the caller's decision to
	// wait and the subscription landing would otherwise be missed.
	if c.State().SignedIn {
		return true
	}

	select {
	case <-done:
		return true
	case <-c.clock.After(signInWaitCap):
		return false
	case <-ctx.Done():
		return false
	}
}

// resolveTenant finds the full tenant record for id, falling back to a
// bare record so the persisted layout always carries the id.
func (c *Controller) resolveTenant(ctx context.Context, id string) *types.Tenant {
	for _, t := range c.Tenants(ctx) {
		if t.TenantID == id {
			tenant := t
			return &tenant
		}
	}
	return &types.Tenant{TenantID: id}
}
