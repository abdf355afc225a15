package server

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/domain/mapping"
	"github.com/meridianhq/meridian-sync/internal/domain/workspace"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/monitoring"
	"github.com/meridianhq/meridian-sync/internal/mirror"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	session     workspace.Session
	identity    *identity.Controller
	mapping     *mapping.Store
	mirror      *mirror.Mirror
	settings    *store.Store
	metrics     *monitoring.Metrics
	logger      *logging.Logger
	environment string
	version     string

	signingIn atomic.Bool
	base      context.Context
}

// mutator probes the session's mutation capability. The fixture session
// does not carry it.
func (h *Handlers) mutator(c *gin.Context) (workspace.Mutator, bool) {
	if m, ok := h.session.(workspace.Mutator); ok {
		return m, true
	}
	c.JSON(http.StatusNotImplemented, gin.H{
		"error": "mutations are unavailable for this session",
	})
	return nil, false
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "meridian-sync",
		"version": h.version,
	})
}

// Health handles the health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"state":       h.session.State(),
		"connected":   h.session.Connected(),
		"environment": h.environment,
	})
}

// Status reports running metric totals alongside session state.
func (h *Handlers) Status(c *gin.Context) {
	resp := gin.H{
		"state":     h.session.State(),
		"connected": h.session.Connected(),
		"restoring": h.session.Restoring(),
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession describes the sign-in session.
func (h *Handlers) GetSession(c *gin.Context) {
	resp := gin.H{
		"state":       h.session.State(),
		"connected":   h.session.Connected(),
		"restoring":   h.session.Restoring(),
		"environment": h.environment,
	}
	if h.identity != nil {
		if tenant := h.identity.CurrentTenant(c.Request.Context()); tenant != nil {
			resp["tenant"] = tenant
		}
		if info, err := h.identity.SessionInfo(c.Request.Context()); err == nil && info != nil {
			resp["account"] = info.Account
			resp["expiresAt"] = info.ExpiresAt
		}
	}
	c.JSON(http.StatusOK, resp)
}

// SignIn starts the device-code flow. The flow outlives the request: the
// user code arrives on /stream as a devicePrompt event and completion as
// signInChanged. Repeated calls while a flow is pending return 409.
func (h *Handlers) SignIn(c *gin.Context) {
	if h.identity == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "sign-in is unavailable for this session"})
		return
	}

	var req struct {
		Tenant string `json:"tenant"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !h.signingIn.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "sign-in already in progress"})
		return
	}

	go func() {
		defer h.signingIn.Store(false)
		ok, err := h.identity.SignIn(h.base, req.Tenant)
		if err != nil {
			h.logger.Warn("sign-in failed", zap.Error(err))
			return
		}
		if !ok {
			h.logger.Info("sign-in not completed")
			return
		}
		h.logger.Info("sign-in completed")
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
}

// SignOut discards the platform session.
func (h *Handlers) SignOut(c *gin.Context) {
	if h.identity == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "sign-out is unavailable for this session"})
		return
	}
	if err := h.identity.SignOut(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListTenants lists the tenants the signed-in account can reach.
func (h *Handlers) ListTenants(c *gin.Context) {
	if h.identity == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "tenants are unavailable for this session"})
		return
	}
	tenants := h.identity.Tenants(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

// ListWorkspaces lists workspaces with the current visibility filter.
func (h *Handlers) ListWorkspaces(c *gin.Context) {
	list, err := h.session.Workspaces(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	ids, filtered := h.session.VisibleWorkspaceIDs()
	c.JSON(http.StatusOK, gin.H{
		"workspaces": list,
		"filtered":   filtered,
		"visibleIds": ids,
	})
}

// GetWorkspace fetches one workspace; an id unknown to the tenant is 404.
func (h *Handlers) GetWorkspace(c *gin.Context) {
	ws, err := h.session.WorkspaceByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if ws == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
		return
	}
	c.JSON(http.StatusOK, ws)
}

// GetCurrentWorkspace reports the open workspace, nil in the picker.
func (h *Handlers) GetCurrentWorkspace(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current": h.session.Current(),
		"state":   h.session.State(),
	})
}

// SetCurrentWorkspace opens a workspace, or returns to the picker when
// workspaceId is empty.
func (h *Handlers) SetCurrentWorkspace(c *gin.Context) {
	var req struct {
		WorkspaceID string `json:"workspaceId"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if req.WorkspaceID == "" {
		if err := h.session.SetCurrent(c.Request.Context(), nil); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"current": nil, "state": h.session.State()})
		return
	}

	ws, err := h.session.WorkspaceByID(c.Request.Context(), req.WorkspaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	if ws == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
		return
	}
	if err := h.session.SetCurrent(c.Request.Context(), ws); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": h.session.Current(), "state": h.session.State()})
}

// CreateWorkspace provisions a workspace on the platform.
func (h *Handlers) CreateWorkspace(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}

	var req struct {
		DisplayName string `json:"displayName" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := mut.CreateWorkspace(c.Request.Context(), req.DisplayName, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"workspace": ws})
}

// DeleteWorkspace removes a workspace on the platform.
func (h *Handlers) DeleteWorkspace(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := mut.DeleteWorkspace(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "workspaceId": id})
}

// ListItems lists a workspace's artifacts.
func (h *Handlers) ListItems(c *gin.Context) {
	items, err := h.session.Items(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// CreateItem creates an artifact in a workspace.
func (h *Handlers) CreateItem(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}

	var req struct {
		DisplayName string `json:"displayName" binding:"required"`
		Type        string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	artifact, err := mut.CreateArtifact(c.Request.Context(), c.Param("id"), types.ArtifactType(req.Type), req.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": artifact})
}

// DeleteItem deletes an artifact.
func (h *Handlers) DeleteItem(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}
	workspaceID, itemID := c.Param("id"), c.Param("itemId")
	if err := mut.DeleteArtifact(c.Request.Context(), workspaceID, itemID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "itemId": itemID})
}

// GetDefinition fetches an artifact's definition parts.
func (h *Handlers) GetDefinition(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}
	def, err := mut.ArtifactDefinition(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// UpdateDefinition replaces an artifact's definition parts.
func (h *Handlers) UpdateDefinition(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}

	var def types.ArtifactDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := mut.UpdateArtifactDefinition(c.Request.Context(), c.Param("id"), c.Param("itemId"), &def); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetWorkspaceFolder resolves the local folder for a workspace. Without
// an explicit mapping the default derivation answers.
func (h *Handlers) GetWorkspaceFolder(c *gin.Context) {
	id := c.Param("id")
	ws, err := h.session.WorkspaceByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if ws == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
		return
	}

	folder, explicit := h.mapping.WorkspaceFolder(id)
	if !explicit {
		var tenant *types.Tenant
		if h.identity != nil {
			tenant = h.identity.CurrentTenant(c.Request.Context())
		}
		folder = h.mapping.DefaultWorkspaceFolder(tenant, ws)
	}
	c.JSON(http.StatusOK, gin.H{"folder": folder, "explicit": explicit})
}

// SetWorkspaceFolder pins a workspace to a local folder. An empty folder
// clears the mapping.
func (h *Handlers) SetWorkspaceFolder(c *gin.Context) {
	var req struct {
		Folder string `json:"folder"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mapping.SetWorkspaceFolder(c.Param("id"), req.Folder); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetItemFolder resolves the local folder for an artifact. The owning
// workspace must be mapped first.
func (h *Handlers) GetItemFolder(c *gin.Context) {
	artifact, ok := h.findArtifact(c)
	if !ok {
		return
	}
	folder, mapped := h.mapping.ArtifactFolder(artifact)
	if !mapped {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "workspace folder is not mapped",
			"action": "mapWorkspace",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"folder": folder})
}

// SetItemFolder pins an artifact to a folder, overriding the derived name.
func (h *Handlers) SetItemFolder(c *gin.Context) {
	var req struct {
		Folder string `json:"folder"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mapping.SetArtifactFolder(c.Param("itemId"), req.Folder); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ExportItem writes the artifact's definition into its mapped folder,
// snapshotting existing content first.
func (h *Handlers) ExportItem(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}
	artifact, ok := h.findArtifact(c)
	if !ok {
		return
	}
	folder, mapped := h.mapping.ArtifactFolder(artifact)
	if !mapped {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "workspace folder is not mapped",
			"action": "mapWorkspace",
		})
		return
	}

	timer := monitoring.NewTimer(h.metrics, "mirror", "export")
	def, err := mut.ArtifactDefinition(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		timer.Stop("error")
		respondError(c, err)
		return
	}
	snapshot, err := h.mirror.Export(c.Request.Context(), folder, def)
	if err != nil {
		timer.Stop("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "snapshot": snapshot})
		return
	}
	timer.Stop("success")

	h.logger.Info("artifact exported",
		zap.String("item", artifact.ID),
		zap.String("folder", folder),
		zap.Int("parts", len(def.Parts)))
	c.JSON(http.StatusOK, gin.H{
		"folder":   folder,
		"snapshot": snapshot,
		"parts":    len(def.Parts),
	})
}

// ImportItem packs the artifact's mapped folder and pushes it to the
// platform as the new definition.
func (h *Handlers) ImportItem(c *gin.Context) {
	mut, ok := h.mutator(c)
	if !ok {
		return
	}
	artifact, ok := h.findArtifact(c)
	if !ok {
		return
	}
	folder, mapped := h.mapping.ArtifactFolder(artifact)
	if !mapped {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "workspace folder is not mapped",
			"action": "mapWorkspace",
		})
		return
	}

	timer := monitoring.NewTimer(h.metrics, "mirror", "import")
	def, err := h.mirror.Import(c.Request.Context(), folder)
	if err != nil {
		timer.Stop("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := mut.UpdateArtifactDefinition(c.Request.Context(), c.Param("id"), c.Param("itemId"), def); err != nil {
		timer.Stop("error")
		respondError(c, err)
		return
	}
	timer.Stop("success")

	h.logger.Info("artifact imported",
		zap.String("item", artifact.ID),
		zap.String("folder", folder),
		zap.Int("parts", len(def.Parts)))
	c.JSON(http.StatusOK, gin.H{"folder": folder, "parts": len(def.Parts)})
}

// GetFilters reports workspace visibility for the active tenant.
func (h *Handlers) GetFilters(c *gin.Context) {
	ids, filtered := h.session.VisibleWorkspaceIDs()
	c.JSON(http.StatusOK, gin.H{"filtered": filtered, "visibleIds": ids})
}

// SetFilters replaces the visible workspace set. An empty or missing list
// hides everything; clearing the filter is DELETE /api/filters.
func (h *Handlers) SetFilters(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.session.SetVisibleWorkspaceIDs(req.IDs); err != nil {
		respondError(c, err)
		return
	}
	ids, filtered := h.session.VisibleWorkspaceIDs()
	c.JSON(http.StatusOK, gin.H{"filtered": filtered, "visibleIds": ids})
}

// ClearFilters returns the tenant to show-all.
func (h *Handlers) ClearFilters(c *gin.Context) {
	if err := h.session.ClearFilters(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filtered": false})
}

// AddFilterWorkspace widens the visible set by one workspace.
func (h *Handlers) AddFilterWorkspace(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.session.AddWorkspaceToFilters(req.ID); err != nil {
		respondError(c, err)
		return
	}
	ids, filtered := h.session.VisibleWorkspaceIDs()
	c.JSON(http.StatusOK, gin.H{"filtered": filtered, "visibleIds": ids})
}

// ResolveFolder answers which workspace owns a local folder.
func (h *Handlers) ResolveFolder(c *gin.Context) {
	folder := c.Query("folder")
	if folder == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "folder query parameter is required"})
		return
	}
	id, ok := h.mapping.WorkspaceIDForFolder(folder)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no workspace mapped to folder"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaceId": id})
}

// viewStateKey scopes tree expansion to the environment and tenant.
func (h *Handlers) viewStateKey() string {
	tenantID := ""
	if h.identity != nil {
		tenantID = h.identity.State().TenantID
	}
	return h.environment + ":" + tenantID
}

// GetViewState returns the tree expansion state for the active tenant.
func (h *Handlers) GetViewState(c *gin.Context) {
	key := h.viewStateKey()
	var vs *store.ViewState
	h.settings.View(func(s *store.Settings) {
		if s.ViewState != nil {
			vs = s.ViewState[key]
		}
	})
	if vs == nil {
		vs = &store.ViewState{}
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "viewState": vs})
}

// SetViewState persists the tree expansion state for the active tenant.
func (h *Handlers) SetViewState(c *gin.Context) {
	var vs store.ViewState
	if err := c.ShouldBindJSON(&vs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := h.viewStateKey()
	if err := h.settings.Mutate(func(s *store.Settings) {
		if s.ViewState == nil {
			s.ViewState = make(map[string]*store.ViewState)
		}
		s.ViewState[key] = &vs
	}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key})
}

// findArtifact locates an item within its workspace's cached list.
func (h *Handlers) findArtifact(c *gin.Context) (*types.Artifact, bool) {
	items, err := h.session.Items(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	itemID := c.Param("itemId")
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "item not found in workspace"})
	return nil, false
}
