// Package types provides shared data structures for meridian-sync.
//
// This package defines the platform vocabulary used across all daemon
// components, keeping wire shapes and JSON tags in one place.
//
// Core Types:
//   - Tenant: Directory tenant an account can sign in to
//   - Workspace: Container for artifacts, personal or shared
//   - Artifact: Platform item (notebook, dataset, pipeline, report, lakehouse)
//   - ArtifactDefinition: Content of an artifact as a list of parts
//   - DefinitionPart: One file of a definition, base64-encoded inline
//
// Classification:
//   - WorkspaceType: Personal vs shared, drives sort order
//   - ArtifactType: Item kind, part of the derived folder name
//
// Example Usage:
//
//	ws := &types.Workspace{
//	    ObjectID:    "b5c0…",
//	    DisplayName: "Contoso Analytics",
//	    Type:        types.WorkspaceShared,
//	}
//	if ws.IsPersonal() {
//	    // sorts ahead of shared workspaces
//	}
package types
