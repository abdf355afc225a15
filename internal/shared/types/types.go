package types

// Tenant is an identity-provider organizational boundary. A user may have
// access to several; the enumerated list is immutable for the lifetime of a
// signed-in session.
type Tenant struct {
	TenantID      string `json:"tenantId"`
	DisplayName   string `json:"displayName"`
	DefaultDomain string `json:"defaultDomain"`
}

// WorkspaceType discriminates personal workspaces from shared ones. Personal
// workspaces sort ahead of everything else in listings.
type WorkspaceType string

const (
	WorkspacePersonal WorkspaceType = "Personal"
	WorkspaceShared   WorkspaceType = "Workspace"
)

// Workspace is a named remote container of artifacts, scoped to one tenant.
type Workspace struct {
	ObjectID          string             `json:"objectId"`
	DisplayName       string             `json:"displayName"`
	Type              WorkspaceType      `json:"type"`
	CapacityID        string             `json:"capacityId,omitempty"`
	Description       string             `json:"description,omitempty"`
	SourceControlInfo *SourceControlInfo `json:"sourceControlInfo,omitempty"`
}

// IsPersonal reports whether the workspace is the user's personal one.
func (w Workspace) IsPersonal() bool {
	return w.Type == WorkspacePersonal
}

// SourceControlInfo describes the repository a workspace is connected to.
// Absence is a valid state, not an error.
type SourceControlInfo struct {
	Provider      string `json:"provider"`
	RepositoryURL string `json:"repositoryUrl"`
	Branch        string `json:"branch,omitempty"`
}

// ArtifactType identifies the kind of a remote content item.
type ArtifactType string

const (
	ArtifactNotebook  ArtifactType = "Notebook"
	ArtifactDataset   ArtifactType = "Dataset"
	ArtifactPipeline  ArtifactType = "DataPipeline"
	ArtifactReport    ArtifactType = "Report"
	ArtifactLakehouse ArtifactType = "Lakehouse"
)

// Artifact is a single remote content item within a workspace. Environment is
// stamped on fetch so cached entries can never be confused across clouds.
type Artifact struct {
	ID          string       `json:"id"`
	Type        ArtifactType `json:"type"`
	DisplayName string       `json:"displayName"`
	WorkspaceID string       `json:"workspaceId"`
	Description string       `json:"description,omitempty"`
	Environment string       `json:"environment,omitempty"`
}

// DefinitionPart is one file of an artifact definition. Payload encoding is
// named by PayloadType; InlineBase64 is the only encoding the platform
// currently accepts.
type DefinitionPart struct {
	Path        string `json:"path"`
	Payload     string `json:"payload"`
	PayloadType string `json:"payloadType"`
}

// PayloadInlineBase64 is the wire encoding for definition part payloads.
const PayloadInlineBase64 = "InlineBase64"

// ArtifactDefinition is the full editable content of an artifact, expressed
// as a set of parts mirrored to and from a local folder.
type ArtifactDefinition struct {
	Format string           `json:"format,omitempty"`
	Parts  []DefinitionPart `json:"parts"`
}
