package workspace

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/api/client"
	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/domain/lro"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// itemsEntry pins a cached artifact list to the generation it was fetched
// under. Stale generations read as misses.
type itemsEntry struct {
	artifacts []types.Artifact
	gen       uint64
}

// ManagerConfig carries the required collaborators for a live Manager.
type ManagerConfig struct {
	Sender      client.Sender
	Identity    *identity.Controller
	Store       *store.Store
	Poller      *lro.Poller
	Environment string
}

// Manager orchestrates the workspace session against the platform API.
type Manager struct {
	sender      client.Sender
	identity    *identity.Controller
	store       *store.Store
	poller      *lro.Poller
	logger      *logging.Logger
	environment string

	mu          sync.RWMutex
	state       State
	current     *types.Workspace      // Protected by mu
	wsCache     map[string]*types.Workspace // Protected by mu
	items       map[string]itemsEntry // Protected by mu
	initialized bool                  // Protected by mu; re-armed on tenant change

	gen       atomic.Uint64
	restoring atomic.Bool

	propertyChanged *events.Feed[string]
	subs            []*events.Subscription

	cacheObserver   func(hit bool)
	restoreObserver func(outcome string)
}

var (
	_ Session = (*Manager)(nil)
	_ Mutator = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithCacheObserver reports each cache lookup outcome.
func WithCacheObserver(fn func(hit bool)) Option {
	return func(m *Manager) { m.cacheObserver = fn }
}

// WithRestoreObserver reports restoration outcomes: "restored", "choose"
// or "signed_out".
func WithRestoreObserver(fn func(outcome string)) Option {
	return func(m *Manager) { m.restoreObserver = fn }
}

// NewManager creates a live workspace session manager.
func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	m := &Manager{
		sender:          cfg.Sender,
		identity:        cfg.Identity,
		store:           cfg.Store,
		poller:          cfg.Poller,
		logger:          logging.NewNop(),
		environment:     cfg.Environment,
		state:           StateSignedOut,
		wsCache:         make(map[string]*types.Workspace),
		items:           make(map[string]itemsEntry),
		propertyChanged: events.NewFeed[string](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.Identity != nil && cfg.Identity.State().SignedIn {
		m.state = StateChooseWorkspace
	}
	return m
}

// Start subscribes the manager to session and tenant changes. Call after
// the identity controller has started.
func (m *Manager) Start() {
	m.subs = append(m.subs,
		m.identity.SignInChanged().Subscribe(func(events.Signal) { m.handleSignInChange() }),
		m.identity.TenantChanged().Subscribe(func(events.Signal) { m.handleTenantChange() }),
	)
}

// Close detaches the manager from the identity feeds.
func (m *Manager) Close() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
}

func (m *Manager) handleSignInChange() {
	if !m.identity.State().SignedIn {
		m.mu.Lock()
		m.current = nil
		m.wsCache = make(map[string]*types.Workspace)
		m.items = make(map[string]itemsEntry)
		changed := m.state != StateSignedOut
		m.state = StateSignedOut
		m.mu.Unlock()
		m.gen.Add(1)
		if changed {
			m.propertyChanged.Emit("state")
		}
		return
	}

	m.mu.Lock()
	changed := m.state == StateSignedOut
	if changed {
		m.state = StateChooseWorkspace
	}
	m.mu.Unlock()
	if changed {
		m.propertyChanged.Emit("state")
	}
}

// handleTenantChange drops everything scoped to the old tenant and re-arms
// restoration. Cached workspaces and artifact lists must never leak across
// tenants.
func (m *Manager) handleTenantChange() {
	m.mu.Lock()
	m.current = nil
	m.wsCache = make(map[string]*types.Workspace)
	m.items = make(map[string]itemsEntry)
	m.initialized = false
	m.mu.Unlock()
	m.gen.Add(1)
	m.propertyChanged.Emit("tenant")

	if m.identity.State().SignedIn {
		m.Restore(context.Background())
	}
}

// Restore replays the remembered session: verify the tenant is still
// signed in, then try to reopen the last workspace. Runs once; a tenant
// change re-arms it. Fetch failures fall back to ChooseWorkspace silently,
// a missing workspace is expected after months away.
func (m *Manager) Restore(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.mu.Unlock()

	var (
		remembered  *types.Tenant
		workspaceID string
		wasSignedIn bool
	)
	m.store.View(func(s *store.Settings) {
		remembered = s.CurrentTenant
		workspaceID = s.MostRecentWorkspace
		wasSignedIn = s.LoginState
	})

	if remembered != nil {
		if !m.identity.IsSignedIn(ctx, remembered.TenantID) || !m.tenantEnumerable(ctx, remembered.TenantID) {
			m.logger.Info("remembered tenant unavailable, waiting for sign-in",
				zap.String("tenant", remembered.TenantID))
			m.setState(StateSignedOut)
			m.observeRestore("signed_out")
			return
		}
	} else if !m.identity.State().SignedIn {
		m.setState(StateSignedOut)
		m.observeRestore("signed_out")
		return
	}

	if !wasSignedIn || workspaceID == "" {
		m.setState(StateChooseWorkspace)
		m.observeRestore("choose")
		return
	}

	m.setState(StateLoading)
	m.restoring.Store(true)
	ws, err := m.fetchWorkspace(ctx, workspaceID)
	m.restoring.Store(false)
	if err != nil || ws == nil {
		m.logger.Debug("remembered workspace not restored",
			zap.String("workspace", workspaceID), zap.Error(err))
		m.setState(StateChooseWorkspace)
		m.observeRestore("choose")
		return
	}

	if err := m.SetCurrent(ctx, ws); err != nil {
		m.logger.Warn("restored workspace not persisted", zap.Error(err))
	}
	m.logger.Info("workspace restored",
		zap.String("workspace", ws.ObjectID), zap.String("name", ws.DisplayName))
	m.observeRestore("restored")
}

func (m *Manager) tenantEnumerable(ctx context.Context, tenantID string) bool {
	for _, t := range m.identity.Tenants(ctx) {
		if t.TenantID == tenantID {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether reads can be served.
func (m *Manager) Connected() bool {
	return m.identity.State().SignedIn
}

// Restoring reports whether the restoration fetch is in flight.
func (m *Manager) Restoring() bool {
	return m.restoring.Load()
}

// Current returns a copy of the open workspace, or nil.
func (m *Manager) Current() *types.Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyWorkspace(m.current)
}

// SetCurrent opens ws as the current workspace and persists the selection
// so the next start restores it. Passing nil clears the selection. The
// source-control refresh is best effort: a workspace without upstream
// metadata still opens.
func (m *Manager) SetCurrent(ctx context.Context, ws *types.Workspace) error {
	if ws != nil && !m.Connected() {
		return ErrNotConnected
	}

	if ws != nil {
		m.refreshSourceControl(ctx, ws)
	}

	m.mu.Lock()
	if ws == nil {
		m.current = nil
		if m.state != StateSignedOut {
			m.state = StateChooseWorkspace
		}
	} else {
		cp := *ws
		m.current = &cp
		m.state = StateOpen
		cached := cp
		m.wsCache[cp.ObjectID] = &cached
	}
	m.mu.Unlock()

	err := m.store.Mutate(func(s *store.Settings) {
		if ws == nil {
			s.MostRecentWorkspace = ""
		} else {
			s.MostRecentWorkspace = ws.ObjectID
		}
		s.LoginState = true
	})
	if err != nil {
		return fmt.Errorf("persist current workspace: %w", err)
	}

	m.propertyChanged.Emit("currentWorkspace")
	return nil
}

// refreshSourceControl overwrites ws.SourceControlInfo from the remote
// connection record. Failures leave the field as delivered by the list
// endpoint.
func (m *Manager) refreshSourceControl(ctx context.Context, ws *types.Workspace) {
	resp, err := m.sender.SendRequest(ctx, client.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/workspaces/%s/git/connection", ws.ObjectID),
	})
	if err != nil || !resp.IsSuccess() {
		m.logger.Debug("source control refresh skipped", zap.String("workspace", ws.ObjectID))
		return
	}
	var info types.SourceControlInfo
	if err := resp.Decode(&info); err != nil {
		return
	}
	ws.SourceControlInfo = &info
}

// Workspaces lists every workspace visible to the signed-in user, personal
// workspaces first, each group sorted case-insensitively by name.
func (m *Manager) Workspaces(ctx context.Context) ([]types.Workspace, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	resp, err := m.sender.SendRequest(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/workspaces",
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, client.ErrorFromResponse(resp)
	}
	var payload struct {
		Value []types.Workspace `json:"value"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode workspace list: %w", err)
	}
	sortWorkspaces(payload.Value)

	m.mu.Lock()
	for i := range payload.Value {
		ws := payload.Value[i]
		m.wsCache[ws.ObjectID] = &ws
	}
	m.mu.Unlock()
	return payload.Value, nil
}

// sortWorkspaces orders personal workspaces before shared ones, each group
// alphabetically ignoring case.
func sortWorkspaces(ws []types.Workspace) {
	sort.SliceStable(ws, func(i, j int) bool {
		pi, pj := ws[i].IsPersonal(), ws[j].IsPersonal()
		if pi != pj {
			return pi
		}
		return strings.ToLower(ws[i].DisplayName) < strings.ToLower(ws[j].DisplayName)
	})
}

// WorkspaceByID resolves one workspace, serving from cache when possible.
// A 404 returns (nil, nil): stale references are absence, not failure.
func (m *Manager) WorkspaceByID(ctx context.Context, id string) (*types.Workspace, error) {
	m.mu.RLock()
	cached, ok := m.wsCache[id]
	m.mu.RUnlock()
	if ok {
		m.observeCache(true)
		return copyWorkspace(cached), nil
	}
	m.observeCache(false)

	if !m.Connected() {
		return nil, ErrNotConnected
	}
	return m.fetchWorkspace(ctx, id)
}

// fetchWorkspace caches the record only on 2xx so a transient failure
// cannot poison later lookups.
func (m *Manager) fetchWorkspace(ctx context.Context, id string) (*types.Workspace, error) {
	resp, err := m.sender.SendRequest(ctx, client.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/workspaces/%s", id),
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, client.ErrorFromResponse(resp)
	}
	var ws types.Workspace
	if err := resp.Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}

	m.mu.Lock()
	m.wsCache[id] = &ws
	m.mu.Unlock()
	return copyWorkspace(&ws), nil
}

// Items lists the artifacts of a workspace, tagged with the environment
// they came from. Served from cache while the generation matches.
func (m *Manager) Items(ctx context.Context, workspaceID string) ([]types.Artifact, error) {
	if m.restoring.Load() {
		return nil, ErrRestoring
	}
	if !m.Connected() {
		return nil, ErrNotConnected
	}

	gen := m.gen.Load()
	m.mu.RLock()
	entry, ok := m.items[workspaceID]
	m.mu.RUnlock()
	if ok && entry.gen == gen {
		m.observeCache(true)
		return append([]types.Artifact(nil), entry.artifacts...), nil
	}
	m.observeCache(false)

	resp, err := m.sender.SendRequest(ctx, client.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/workspaces/%s/items", workspaceID),
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, client.ErrorFromResponse(resp)
	}
	var payload struct {
		Value []types.Artifact `json:"value"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode artifact list: %w", err)
	}
	for i := range payload.Value {
		payload.Value[i].Environment = m.environment
		payload.Value[i].WorkspaceID = workspaceID
	}

	m.mu.Lock()
	m.items[workspaceID] = itemsEntry{artifacts: payload.Value, gen: gen}
	stateChanged := m.applyEmptiness(workspaceID, len(payload.Value))
	m.mu.Unlock()
	if stateChanged {
		m.propertyChanged.Emit("state")
	}
	return append([]types.Artifact(nil), payload.Value...), nil
}

// applyEmptiness flips WorkspaceOpen <-> EmptyWorkspace for the current
// workspace. Caller holds m.mu.
func (m *Manager) applyEmptiness(workspaceID string, count int) bool {
	if m.current == nil || m.current.ObjectID != workspaceID {
		return false
	}
	if m.state != StateOpen && m.state != StateEmpty {
		return false
	}
	next := StateOpen
	if count == 0 {
		next = StateEmpty
	}
	if m.state == next {
		return false
	}
	m.state = next
	return true
}

// Invalidate marks every cached artifact list stale.
func (m *Manager) Invalidate() {
	m.gen.Add(1)
}

// PropertyChanged is the feed of property names whose values changed.
func (m *Manager) PropertyChanged() *events.Feed[string] {
	return m.propertyChanged
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.propertyChanged.Emit("state")
	}
}

func (m *Manager) observeCache(hit bool) {
	if m.cacheObserver != nil {
		m.cacheObserver(hit)
	}
}

func (m *Manager) observeRestore(outcome string) {
	if m.restoreObserver != nil {
		m.restoreObserver(outcome)
	}
}

func copyWorkspace(ws *types.Workspace) *types.Workspace {
	if ws == nil {
		return nil
	}
	cp := *ws
	if ws.SourceControlInfo != nil {
		sc := *ws.SourceControlInfo
		cp.SourceControlInfo = &sc
	}
	return &cp
}
