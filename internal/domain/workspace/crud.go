package workspace

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/api/client"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// Mutations go through the operation poller: the platform answers some of
// them synchronously and defers others with 202, the caller never sees the
// difference.

// CreateWorkspace provisions a workspace and returns the created record.
func (m *Manager) CreateWorkspace(ctx context.Context, displayName, description string) (*types.Workspace, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	body := map[string]string{"displayName": displayName}
	if description != "" {
		body["description"] = description
	}
	final, err := m.mutate(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/workspaces",
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	var ws types.Workspace
	if err := final.Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode created workspace: %w", err)
	}

	m.mu.Lock()
	cached := ws
	m.wsCache[ws.ObjectID] = &cached
	m.mu.Unlock()
	m.Invalidate()
	m.propertyChanged.Emit("workspaces")
	m.logger.Info("workspace created",
		zap.String("workspace", ws.ObjectID), zap.String("name", displayName))
	return copyWorkspace(&ws), nil
}

// DeleteWorkspace removes a workspace. Deleting the current workspace
// drops the selection back to ChooseWorkspace.
func (m *Manager) DeleteWorkspace(ctx context.Context, id string) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	if _, err := m.mutate(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/workspaces/%s", id),
	}); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.wsCache, id)
	delete(m.items, id)
	clearedCurrent := m.current != nil && m.current.ObjectID == id
	if clearedCurrent {
		m.current = nil
		m.state = StateChooseWorkspace
	}
	m.mu.Unlock()

	if clearedCurrent {
		if err := m.store.Mutate(func(s *store.Settings) {
			s.MostRecentWorkspace = ""
		}); err != nil {
			m.logger.Warn("deleted workspace still remembered", zap.Error(err))
		}
		m.propertyChanged.Emit("currentWorkspace")
	}
	m.Invalidate()
	m.propertyChanged.Emit("workspaces")
	m.logger.Info("workspace deleted", zap.String("workspace", id))
	return nil
}

// CreateArtifact creates an artifact inside a workspace.
func (m *Manager) CreateArtifact(ctx context.Context, workspaceID string, artifactType types.ArtifactType, displayName string) (*types.Artifact, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	final, err := m.mutate(ctx, client.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/workspaces/%s/items", workspaceID),
		Body: map[string]string{
			"displayName": displayName,
			"type":        string(artifactType),
		},
	})
	if err != nil {
		return nil, err
	}
	var artifact types.Artifact
	if err := final.Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode created artifact: %w", err)
	}
	artifact.Environment = m.environment
	artifact.WorkspaceID = workspaceID

	m.Invalidate()
	m.propertyChanged.Emit("items")
	m.logger.Info("artifact created",
		zap.String("workspace", workspaceID),
		zap.String("artifact", artifact.ID),
		zap.String("type", string(artifactType)))
	return &artifact, nil
}

// DeleteArtifact removes an artifact from a workspace.
func (m *Manager) DeleteArtifact(ctx context.Context, workspaceID, artifactID string) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	if _, err := m.mutate(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/workspaces/%s/items/%s", workspaceID, artifactID),
	}); err != nil {
		return err
	}
	m.Invalidate()
	m.propertyChanged.Emit("items")
	m.logger.Info("artifact deleted",
		zap.String("workspace", workspaceID), zap.String("artifact", artifactID))
	return nil
}

// ArtifactDefinition fetches the full part list of an artifact. The
// platform serves definitions through a POST endpoint because the request
// may defer.
func (m *Manager) ArtifactDefinition(ctx context.Context, workspaceID, artifactID string) (*types.ArtifactDefinition, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	final, err := m.mutate(ctx, client.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/workspaces/%s/items/%s/getDefinition", workspaceID, artifactID),
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Definition types.ArtifactDefinition `json:"definition"`
	}
	if err := final.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode artifact definition: %w", err)
	}
	return &payload.Definition, nil
}

// UpdateArtifactDefinition replaces the part list of an artifact.
func (m *Manager) UpdateArtifactDefinition(ctx context.Context, workspaceID, artifactID string, def *types.ArtifactDefinition) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	if _, err := m.mutate(ctx, client.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/workspaces/%s/items/%s/updateDefinition", workspaceID, artifactID),
		Body:   map[string]*types.ArtifactDefinition{"definition": def},
	}); err != nil {
		return err
	}
	m.Invalidate()
	m.propertyChanged.Emit("items")
	m.logger.Info("artifact definition updated",
		zap.String("workspace", workspaceID), zap.String("artifact", artifactID))
	return nil
}

// mutate sends one mutation, rides out a deferred completion and converts
// a failed final status into a typed API error.
func (m *Manager) mutate(ctx context.Context, req client.Request) (*client.Response, error) {
	resp, err := m.sender.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	final, err := m.poller.Await(ctx, resp)
	if err != nil {
		return nil, err
	}
	if !final.IsSuccess() {
		return nil, client.ErrorFromResponse(final)
	}
	return final, nil
}
