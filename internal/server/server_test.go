package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian-sync/internal/api/client"
	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/domain/mapping"
	"github.com/meridianhq/meridian-sync/internal/domain/workspace"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/monitoring"
	"github.com/meridianhq/meridian-sync/internal/mirror"
	"github.com/meridianhq/meridian-sync/internal/providers/deviceauth"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

type testEnv struct {
	srv     *Server
	store   *store.Store
	mapping *mapping.Store
	prompts *events.Feed[deviceauth.DevicePrompt]
	base    string
}

func newEnv(t *testing.T, sess workspace.Session, identityCtrl *identity.Controller) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "state.json"))
	base := filepath.Join(dir, "Meridian")
	maps := mapping.New(st, base)
	prompts := events.NewFeed[deviceauth.DevicePrompt]()

	srv, err := New(Config{
		Host:        "127.0.0.1",
		Environment: "fixture",
		Version:     "test",
		Session:     sess,
		Identity:    identityCtrl,
		Prompts:     prompts,
		Mapping:     maps,
		Mirror:      mirror.New(),
		Settings:    st,
		Metrics:     monitoring.NewMetricsWith(prometheus.NewRegistry()),
		Logger:      logging.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
	})
	return &testEnv{srv: srv, store: st, mapping: maps, prompts: prompts, base: base}
}

func loadFixture(t *testing.T) *workspace.FixtureSession {
	t.Helper()
	fix, err := workspace.NewFixtureSession(filepath.Join("testdata", "fixture.json"))
	require.NoError(t, err)
	return fix
}

func do(t *testing.T, env *testEnv, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// failingSession wraps the fixture so individual reads can be forced to
// fail with a chosen error.
type failingSession struct {
	*workspace.FixtureSession
	workspacesErr error
	itemsErr      error
}

func (f *failingSession) Workspaces(ctx context.Context) ([]types.Workspace, error) {
	if f.workspacesErr != nil {
		return nil, f.workspacesErr
	}
	return f.FixtureSession.Workspaces(ctx)
}

func (f *failingSession) Items(ctx context.Context, workspaceID string) ([]types.Artifact, error) {
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.FixtureSession.Items(ctx, workspaceID)
}

// mutableSession layers a recording Mutator over the fixture.
type mutableSession struct {
	*workspace.FixtureSession

	mu                sync.Mutex
	defs              map[string]*types.ArtifactDefinition
	updated           map[string]*types.ArtifactDefinition
	deletedWorkspaces []string
	deletedItems      []string
}

var _ workspace.Mutator = (*mutableSession)(nil)

func newMutableSession(t *testing.T) *mutableSession {
	return &mutableSession{
		FixtureSession: loadFixture(t),
		defs:           make(map[string]*types.ArtifactDefinition),
		updated:        make(map[string]*types.ArtifactDefinition),
	}
}

func (m *mutableSession) CreateWorkspace(_ context.Context, displayName, description string) (*types.Workspace, error) {
	return &types.Workspace{
		ObjectID:    "ws-created",
		DisplayName: displayName,
		Type:        types.WorkspaceShared,
		Description: description,
	}, nil
}

func (m *mutableSession) DeleteWorkspace(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedWorkspaces = append(m.deletedWorkspaces, id)
	return nil
}

func (m *mutableSession) CreateArtifact(_ context.Context, workspaceID string, artifactType types.ArtifactType, displayName string) (*types.Artifact, error) {
	return &types.Artifact{
		ID:          "item-created",
		Type:        artifactType,
		DisplayName: displayName,
		WorkspaceID: workspaceID,
	}, nil
}

func (m *mutableSession) DeleteArtifact(_ context.Context, workspaceID, artifactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedItems = append(m.deletedItems, workspaceID+"/"+artifactID)
	return nil
}

func (m *mutableSession) ArtifactDefinition(_ context.Context, _, artifactID string) (*types.ArtifactDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def, ok := m.defs[artifactID]; ok {
		return def, nil
	}
	return &types.ArtifactDefinition{}, nil
}

func (m *mutableSession) UpdateArtifactDefinition(_ context.Context, _, artifactID string, def *types.ArtifactDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated[artifactID] = def
	return nil
}

// fakeProvider is an in-memory identity provider whose SignIn can be held
// open to observe in-flight behavior.
type fakeProvider struct {
	mu       sync.Mutex
	signedIn bool
	block    chan struct{}
	changed  *events.Feed[events.Signal]
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{changed: events.NewFeed[events.Signal]()}
}

func (p *fakeProvider) IsSignedIn(context.Context, string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signedIn, nil
}

func (p *fakeProvider) SignIn(ctx context.Context, _ string) (bool, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	p.mu.Lock()
	p.signedIn = true
	p.mu.Unlock()
	p.changed.Emit(events.Signal{})
	return true, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signedIn = false
	p.mu.Unlock()
	p.changed.Emit(events.Signal{})
	return nil
}

func (p *fakeProvider) Tenants(context.Context) ([]types.Tenant, error) {
	return []types.Tenant{{TenantID: "t-contoso", DisplayName: "Contoso"}}, nil
}

func (p *fakeProvider) SessionInfo(context.Context) (*identity.SessionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.signedIn {
		return nil, nil
	}
	return &identity.SessionInfo{
		Account:   "dev@contoso.com",
		TenantID:  "t-contoso",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) SessionChanged() *events.Feed[events.Signal] { return p.changed }

func TestRootAndHealth(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "meridian-sync", body["service"])
	assert.Equal(t, "test", body["version"])

	w = do(t, env, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, string(workspace.StateChooseWorkspace), body["state"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "fixture", body["environment"])
}

func TestStatusReportsMetrics(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	do(t, env, http.MethodGet, "/health", nil)
	w := do(t, env, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["restoring"])
	require.Contains(t, body, "metrics")
	metrics := body["metrics"].(map[string]any)
	assert.GreaterOrEqual(t, metrics["totalRequests"].(float64), float64(1))
}

func TestSessionEndpointsWithoutIdentity(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["connected"])
	assert.NotContains(t, body, "account")

	for _, call := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/session/signin"},
		{http.MethodPost, "/api/session/signout"},
		{http.MethodGet, "/api/tenants"},
	} {
		w := do(t, env, call.method, call.path, nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code, "%s %s", call.method, call.path)
	}
}

func TestSignInFlow(t *testing.T) {
	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "state.json"))
	provider := newFakeProvider()
	provider.block = make(chan struct{})
	ctrl := identity.NewController(provider, st)
	ctrl.Start(context.Background())
	t.Cleanup(ctrl.Close)

	env := newEnv(t, loadFixture(t), ctrl)

	w := do(t, env, http.MethodPost, "/api/session/signin", map[string]any{"tenant": "t-contoso"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	// A second attempt while the prompt is outstanding is rejected.
	w = do(t, env, http.MethodPost, "/api/session/signin", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	close(provider.block)
	require.Eventually(t, func() bool {
		return ctrl.State().SignedIn
	}, 2*time.Second, 10*time.Millisecond)

	w = do(t, env, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev@contoso.com", decode(t, w)["account"])

	w = do(t, env, http.MethodGet, "/api/tenants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tenants struct {
		Tenants []types.Tenant `json:"tenants"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &tenants))
	require.Len(t, tenants.Tenants, 1)
	assert.Equal(t, "Contoso", tenants.Tenants[0].DisplayName)

	w = do(t, env, http.MethodPost, "/api/session/signout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		return !ctrl.State().SignedIn
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListWorkspacesSorted(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/workspaces", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Workspaces []types.Workspace `json:"workspaces"`
		Filtered   bool              `json:"filtered"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Workspaces, 3)
	assert.Equal(t, "ws-personal-1", resp.Workspaces[0].ObjectID)
	assert.Equal(t, "ws-shared-2", resp.Workspaces[1].ObjectID)
	assert.Equal(t, "ws-shared-1", resp.Workspaces[2].ObjectID)
	assert.False(t, resp.Filtered)
}

func TestGetWorkspace(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Contoso Analytics", decode(t, w)["displayName"])

	w = do(t, env, http.MethodGet, "/api/workspaces/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCurrentWorkspaceLifecycle(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/workspaces/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["current"])
	assert.Equal(t, string(workspace.StateChooseWorkspace), body["state"])

	w = do(t, env, http.MethodPut, "/api/workspaces/current", map[string]any{"workspaceId": "ws-shared-1"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, string(workspace.StateOpen), body["state"])
	current := body["current"].(map[string]any)
	assert.Equal(t, "ws-shared-1", current["objectId"])

	// A workspace with no items opens empty.
	w = do(t, env, http.MethodPut, "/api/workspaces/current", map[string]any{"workspaceId": "ws-personal-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(workspace.StateEmpty), decode(t, w)["state"])

	w = do(t, env, http.MethodPut, "/api/workspaces/current", map[string]any{"workspaceId": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// An empty id returns to the picker.
	w = do(t, env, http.MethodPut, "/api/workspaces/current", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Nil(t, body["current"])
	assert.Equal(t, string(workspace.StateChooseWorkspace), body["state"])
}

func TestListItems(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []types.Artifact `json:"items"`
		Count int              `json:"count"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, workspace.FixtureEnvironment, resp.Items[0].Environment)
	assert.Equal(t, "ws-shared-1", resp.Items[0].WorkspaceID)
}

func TestMutationsUnavailableOnFixture(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	for _, call := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/workspaces"},
		{http.MethodDelete, "/api/workspaces/ws-shared-1"},
		{http.MethodPost, "/api/workspaces/ws-shared-1/items"},
		{http.MethodDelete, "/api/workspaces/ws-shared-1/items/nb-1"},
		{http.MethodGet, "/api/workspaces/ws-shared-1/items/nb-1/definition"},
		{http.MethodPut, "/api/workspaces/ws-shared-1/items/nb-1/definition"},
		{http.MethodPost, "/api/workspaces/ws-shared-1/items/nb-1/export"},
		{http.MethodPost, "/api/workspaces/ws-shared-1/items/nb-1/import"},
	} {
		w := do(t, env, call.method, call.path, nil)
		require.Equal(t, http.StatusNotImplemented, w.Code, "%s %s", call.method, call.path)
		assert.Contains(t, decode(t, w)["error"], "unavailable")
	}
}

func TestCreateWorkspace(t *testing.T) {
	env := newEnv(t, newMutableSession(t), nil)

	w := do(t, env, http.MethodPost, "/api/workspaces", map[string]any{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, env, http.MethodPost, "/api/workspaces", map[string]any{
		"displayName": "Forecasting",
		"description": "Demand models",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	ws := decode(t, w)["workspace"].(map[string]any)
	assert.Equal(t, "Forecasting", ws["displayName"])
	assert.Equal(t, "ws-created", ws["objectId"])
}

func TestCreateAndDeleteItem(t *testing.T) {
	sess := newMutableSession(t)
	env := newEnv(t, sess, nil)

	w := do(t, env, http.MethodPost, "/api/workspaces/ws-shared-1/items", map[string]any{"displayName": "only a name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, env, http.MethodPost, "/api/workspaces/ws-shared-1/items", map[string]any{
		"displayName": "Churn Model",
		"type":        "Notebook",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	item := decode(t, w)["item"].(map[string]any)
	assert.Equal(t, "Churn Model", item["displayName"])
	assert.Equal(t, string(types.ArtifactNotebook), item["type"])

	w = do(t, env, http.MethodDelete, "/api/workspaces/ws-shared-1/items/nb-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ws-shared-1/nb-1"}, sess.deletedItems)

	w = do(t, env, http.MethodDelete, "/api/workspaces/ws-shared-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ws-shared-1"}, sess.deletedWorkspaces)
}

func TestDefinitionRoundTrip(t *testing.T) {
	sess := newMutableSession(t)
	sess.defs["nb-1"] = &types.ArtifactDefinition{
		Format: "ipynb",
		Parts: []types.DefinitionPart{{
			Path:        "notebook-content.py",
			Payload:     base64.StdEncoding.EncodeToString([]byte("print('hi')")),
			PayloadType: types.PayloadInlineBase64,
		}},
	}
	env := newEnv(t, sess, nil)

	w := do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items/nb-1/definition", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var def types.ArtifactDefinition
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &def))
	assert.Equal(t, "ipynb", def.Format)
	require.Len(t, def.Parts, 1)

	def.Parts[0].Payload = base64.StdEncoding.EncodeToString([]byte("print('changed')"))
	w = do(t, env, http.MethodPut, "/api/workspaces/ws-shared-1/items/nb-1/definition", def)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, sess.updated["nb-1"])
	assert.Equal(t, def.Parts[0].Payload, sess.updated["nb-1"].Parts[0].Payload)
}

func TestErrorMapping(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		env := newEnv(t, &failingSession{
			FixtureSession: loadFixture(t),
			workspacesErr:  workspace.ErrNotConnected,
		}, nil)

		w := do(t, env, http.MethodGet, "/api/workspaces", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "signIn", decode(t, w)["action"])
	})

	t.Run("restoring", func(t *testing.T) {
		env := newEnv(t, &failingSession{
			FixtureSession: loadFixture(t),
			itemsErr:       workspace.ErrRestoring,
		}, nil)

		w := do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items", nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "loading", decode(t, w)["status"])
	})

	t.Run("platform error keeps status", func(t *testing.T) {
		env := newEnv(t, &failingSession{
			FixtureSession: loadFixture(t),
			workspacesErr: &client.APIError{
				Status:       http.StatusForbidden,
				Code:         "InsufficientPrivileges",
				Message:      "caller lacks workspace permission",
				RequestID:    "req_9f2c",
				LearnMoreURL: "https://aka.example/workspace-roles",
			},
		}, nil)

		w := do(t, env, http.MethodGet, "/api/workspaces", nil)
		require.Equal(t, http.StatusForbidden, w.Code)
		body := decode(t, w)
		assert.Equal(t, "caller lacks workspace permission", body["error"])
		assert.Equal(t, "InsufficientPrivileges", body["code"])
		assert.Equal(t, "req_9f2c", body["requestId"])
		assert.Equal(t, "https://aka.example/workspace-roles", body["learnMore"])
	})
}

func TestWorkspaceFolderMapping(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)
	folder := filepath.Join(env.base, "Contoso Analytics")

	w := do(t, env, http.MethodPut, "/api/workspaces/ws-shared-1/folder", map[string]any{"folder": folder})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/folder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, folder, body["folder"])
	assert.Equal(t, true, body["explicit"])

	// Unmapped workspaces answer with the derived default.
	w = do(t, env, http.MethodGet, "/api/workspaces/ws-shared-2/folder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["explicit"])
	assert.Equal(t, filepath.Join(env.base, "archived reports"), body["folder"])

	w = do(t, env, http.MethodGet, "/api/workspaces/missing/folder", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, env, http.MethodGet, "/api/mappings/resolve?folder="+url.QueryEscape(folder), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ws-shared-1", decode(t, w)["workspaceId"])

	w = do(t, env, http.MethodGet, "/api/mappings/resolve?folder="+url.QueryEscape("/nowhere"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, env, http.MethodGet, "/api/mappings/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Clearing the mapping falls back to the default derivation.
	w = do(t, env, http.MethodPut, "/api/workspaces/ws-shared-1/folder", map[string]any{"folder": ""})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/folder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["explicit"])
}

func TestItemFolderNeedsWorkspaceMapping(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items/nb-1/folder", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "mapWorkspace", decode(t, w)["action"])

	wsFolder := filepath.Join(env.base, "contoso")
	w = do(t, env, http.MethodPut, "/api/workspaces/ws-shared-1/folder", map[string]any{"folder": wsFolder})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items/nb-1/folder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, filepath.Join(wsFolder, "Revenue Model.Notebook"), decode(t, w)["folder"])

	// An explicit override beats the derived name.
	custom := filepath.Join(wsFolder, "revenue")
	w = do(t, env, http.MethodPut, "/api/workspaces/ws-shared-1/items/nb-1/folder", map[string]any{"folder": custom})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items/nb-1/folder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, custom, decode(t, w)["folder"])

	w = do(t, env, http.MethodGet, "/api/workspaces/ws-shared-1/items/missing/folder", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFilterEndpoints(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/filters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["filtered"])

	w = do(t, env, http.MethodPut, "/api/filters", map[string]any{"ids": []string{"ws-shared-1"}})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["filtered"])
	assert.Equal(t, []any{"ws-shared-1"}, body["visibleIds"])

	w = do(t, env, http.MethodPost, "/api/filters/workspaces", map[string]any{"id": "ws-personal-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["visibleIds"], 2)

	w = do(t, env, http.MethodPost, "/api/filters/workspaces", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// An empty list hides everything rather than clearing the filter.
	w = do(t, env, http.MethodPut, "/api/filters", map[string]any{"ids": []string{}})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["filtered"])
	assert.Len(t, body["visibleIds"], 0)

	w = do(t, env, http.MethodDelete, "/api/filters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["filtered"])
}

func TestViewStateRoundTrip(t *testing.T) {
	env := newEnv(t, loadFixture(t), nil)

	w := do(t, env, http.MethodGet, "/api/viewstate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fixture:", decode(t, w)["key"])

	w = do(t, env, http.MethodPut, "/api/viewstate", map[string]any{
		"expandedWorkspaces":        []string{"ws-shared-1"},
		"expandedGroupsByWorkspace": map[string][]string{"ws-shared-1": {"notebooks"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, env, http.MethodGet, "/api/viewstate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Key       string          `json:"key"`
		ViewState store.ViewState `json:"viewState"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"ws-shared-1"}, resp.ViewState.ExpandedWorkspaces)
	assert.Equal(t, []string{"notebooks"}, resp.ViewState.ExpandedGroupsByWorkspace["ws-shared-1"])

	var persisted *store.ViewState
	env.store.View(func(s *store.Settings) {
		persisted = s.ViewState["fixture:"]
	})
	require.NotNil(t, persisted)
	assert.Equal(t, []string{"ws-shared-1"}, persisted.ExpandedWorkspaces)
}

func TestExportAndImport(t *testing.T) {
	sess := newMutableSession(t)
	sess.defs["nb-1"] = &types.ArtifactDefinition{
		Parts: []types.DefinitionPart{{
			Path:        "notebook-content.py",
			Payload:     base64.StdEncoding.EncodeToString([]byte("print('hello')")),
			PayloadType: types.PayloadInlineBase64,
		}},
	}
	env := newEnv(t, sess, nil)

	// Export needs the workspace mapped first.
	w := do(t, env, http.MethodPost, "/api/workspaces/ws-shared-1/items/nb-1/export", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "mapWorkspace", decode(t, w)["action"])

	wsFolder := filepath.Join(env.base, "contoso")
	w = do(t, env, http.MethodPut, "/api/workspaces/ws-shared-1/folder", map[string]any{"folder": wsFolder})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, env, http.MethodPost, "/api/workspaces/ws-shared-1/items/nb-1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["parts"])
	assert.Equal(t, "", body["snapshot"])

	itemFolder := filepath.Join(wsFolder, "Revenue Model.Notebook")
	data, err := os.ReadFile(filepath.Join(itemFolder, "notebook-content.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hello')", string(data))

	// Edit locally and push back.
	require.NoError(t, os.WriteFile(filepath.Join(itemFolder, "notebook-content.py"), []byte("print('edited')"), 0o644))
	w = do(t, env, http.MethodPost, "/api/workspaces/ws-shared-1/items/nb-1/import", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["parts"])

	pushed := sess.updated["nb-1"]
	require.NotNil(t, pushed)
	require.Len(t, pushed.Parts, 1)
	decoded, err := base64.StdEncoding.DecodeString(pushed.Parts[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "print('edited')", string(decoded))

	// A second export snapshots the edited content before overwriting.
	w = do(t, env, http.MethodPost, "/api/workspaces/ws-shared-1/items/nb-1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode(t, w)["snapshot"].(string)
	assert.Contains(t, snapshot, "snap_")
}
