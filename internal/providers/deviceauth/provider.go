package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/config"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/shared/clock"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// ErrNotSignedIn reports a token request without an active session.
var ErrNotSignedIn = errors.New("no active session")

// expirySkew treats tokens about to expire as already expired so a
// request never leaves with a token that dies in flight.
const expirySkew = 2 * time.Minute

// tokenSet is one tenant's credentials. Sets are immutable once
// published: refresh builds a replacement instead of mutating in place.
type tokenSet struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Account      string    `json:"account"`
	TenantID     string    `json:"tenantId"`
}

func (t *tokenSet) valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-expirySkew))
}

// DevicePrompt is what the user must act on to complete sign-in.
type DevicePrompt struct {
	UserCode        string    `json:"userCode"`
	VerificationURI string    `json:"verificationUri"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Provider implements identity.Provider with the device authorization
// grant against the meridian login service.
type Provider struct {
	cfg      config.IdentityConfig
	http     *resty.Client
	vault    *Vault
	vaultSet bool
	clock    clock.Clock
	logger   *logging.Logger

	mu     sync.Mutex
	tokens map[string]*tokenSet // tenant id -> set; Protected by mu
	active string               // Protected by mu

	sessionChanged *events.Feed[events.Signal]
	devicePrompts  *events.Feed[DevicePrompt]
}

var _ identity.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// WithClock overrides the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(p *Provider) { p.clock = clk }
}

// WithVault overrides the sealed token cache. Passing nil disables
// persistence entirely.
func WithVault(v *Vault) Option {
	return func(p *Provider) { p.vault = v; p.vaultSet = true }
}

// New creates a device-auth provider from identity configuration.
func New(cfg config.IdentityConfig, opts ...Option) *Provider {
	p := &Provider{
		cfg: cfg,
		http: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "meridian-sync/1.0"),
		clock:          clock.Real(),
		logger:         logging.NewNop(),
		tokens:         make(map[string]*tokenSet),
		sessionChanged: events.NewFeed[events.Signal](),
		devicePrompts:  events.NewFeed[DevicePrompt](),
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.vaultSet && cfg.TokenCache != "" {
		p.vault = NewVault(cfg.TokenCache)
	}
	return p
}

// Restore loads sealed tokens from the previous run. Missing or
// unreadable caches start signed out; nothing is emitted, the identity
// controller takes its silent baseline afterwards.
func (p *Provider) Restore() {
	if p.vault == nil {
		return
	}
	payload, err := p.vault.Load()
	if err != nil {
		p.logger.Warn("token cache not restored", zap.Error(err))
		return
	}
	if payload == nil {
		return
	}
	p.mu.Lock()
	p.tokens = payload.Tokens
	if p.tokens == nil {
		p.tokens = make(map[string]*tokenSet)
	}
	p.active = payload.Active
	count := len(p.tokens)
	p.mu.Unlock()
	p.logger.Info("token cache restored", zap.Int("tenants", count))
}

// IsSignedIn reports whether a usable token exists for the tenant (or the
// active tenant when tenantID is empty). Silent: it may refresh over the
// network but never prompts the user.
func (p *Provider) IsSignedIn(ctx context.Context, tenantID string) (bool, error) {
	p.mu.Lock()
	if tenantID == "" {
		tenantID = p.active
	}
	set := p.tokens[tenantID]
	p.mu.Unlock()

	if set == nil {
		return false, nil
	}
	if set.valid(p.clock.Now()) {
		return true, nil
	}
	if set.RefreshToken == "" {
		return false, nil
	}
	if err := p.refreshTenant(ctx, tenantID); err != nil {
		p.logger.Debug("silent refresh failed", zap.String("tenant", tenantID), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// SignOut forgets every tenant's credentials and clears the sealed cache.
func (p *Provider) SignOut(context.Context) error {
	p.mu.Lock()
	p.tokens = make(map[string]*tokenSet)
	p.active = ""
	p.mu.Unlock()

	if p.vault != nil {
		if err := p.vault.Clear(); err != nil {
			p.logger.Warn("token cache not cleared", zap.Error(err))
		}
	}
	p.logger.Info("signed out")
	p.sessionChanged.Emit(events.Signal{})
	return nil
}

// Tenants enumerates the tenants the signed-in account can reach.
func (p *Provider) Tenants(ctx context.Context) ([]types.Tenant, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(p.cfg.TenantsURL)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("list tenants: %s", resp.Status())
	}
	var payload struct {
		Value []types.Tenant `json:"value"`
	}
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode tenants: %w", err)
	}
	return payload.Value, nil
}

// SessionInfo describes the active session, nil when signed out.
func (p *Provider) SessionInfo(context.Context) (*identity.SessionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.tokens[p.active]
	if set == nil {
		return nil, nil
	}
	return &identity.SessionInfo{
		Account:   set.Account,
		TenantID:  set.TenantID,
		ExpiresAt: set.ExpiresAt,
	}, nil
}

// SessionChanged fires after any credential gain or loss.
func (p *Provider) SessionChanged() *events.Feed[events.Signal] {
	return p.sessionChanged
}

// DevicePrompts fires once per SignIn with the code the user must enter.
func (p *Provider) DevicePrompts() *events.Feed[DevicePrompt] {
	return p.devicePrompts
}

// Token returns a live access token for the active tenant, refreshing a
// stale one first. This is the client.TokenSource for the platform API.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	tenantID := p.active
	set := p.tokens[tenantID]
	p.mu.Unlock()

	if set == nil {
		return "", ErrNotSignedIn
	}
	if set.valid(p.clock.Now()) {
		return set.AccessToken, nil
	}
	if err := p.refreshTenant(ctx, tenantID); err != nil {
		return "", err
	}

	p.mu.Lock()
	set = p.tokens[tenantID]
	p.mu.Unlock()
	if set == nil {
		return "", ErrNotSignedIn
	}
	return set.AccessToken, nil
}

// refreshTenant swaps a stale token set for a fresh one. A transport
// failure keeps the old set (the network may be back next call); a
// rejection from the login service drops the tenant and signals the
// session change.
func (p *Provider) refreshTenant(ctx context.Context, tenantID string) error {
	p.mu.Lock()
	set := p.tokens[tenantID]
	p.mu.Unlock()
	if set == nil || set.RefreshToken == "" {
		return ErrNotSignedIn
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": set.RefreshToken,
			"client_id":     p.cfg.ClientID,
		}).
		Post(p.cfg.TokenURL)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	var tr tokenResponse
	if err := sonic.Unmarshal(resp.Body(), &tr); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if !resp.IsSuccess() {
		p.logger.Info("refresh rejected, dropping credentials",
			zap.String("tenant", tenantID), zap.String("reason", tr.Error))
		p.dropTenant(tenantID)
		return fmt.Errorf("refresh rejected: %s", tr.Error)
	}

	next := &tokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    p.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Account:      set.Account,
		TenantID:     set.TenantID,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = set.RefreshToken
	}

	p.mu.Lock()
	p.tokens[tenantID] = next
	p.mu.Unlock()
	p.persist()
	return nil
}

func (p *Provider) dropTenant(tenantID string) {
	p.mu.Lock()
	delete(p.tokens, tenantID)
	if p.active == tenantID {
		p.active = ""
	}
	p.mu.Unlock()
	p.persist()
	p.sessionChanged.Emit(events.Signal{})
}

// persist seals the current token map to disk. Failures are logged, not
// surfaced: the in-memory session keeps working.
func (p *Provider) persist() {
	if p.vault == nil {
		return
	}
	p.mu.Lock()
	payload := &vaultPayload{
		Active: p.active,
		Tokens: make(map[string]*tokenSet, len(p.tokens)),
	}
	for k, v := range p.tokens {
		payload.Tokens[k] = v
	}
	p.mu.Unlock()

	if err := p.vault.Save(payload); err != nil {
		p.logger.Warn("token cache not saved", zap.Error(err))
	}
}
