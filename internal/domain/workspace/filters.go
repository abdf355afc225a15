package workspace

import (
	"github.com/meridianhq/meridian-sync/internal/store"
)

// hideAllSentinel distinguishes "hide everything" from "no filter", since
// the settings file cannot hold an empty list for an absent key.
const hideAllSentinel = "__none__"

// filterKey scopes filters per environment and tenant so switching either
// never leaks another context's selection.
func (m *Manager) filterKey() string {
	return m.environment + ":" + m.identity.State().TenantID
}

// VisibleWorkspaceIDs returns the allow-list for the active context.
// (nil, false) means no filter: show everything. An empty list with true
// means hide everything.
func (m *Manager) VisibleWorkspaceIDs() ([]string, bool) {
	key := m.filterKey()
	var (
		ids     []string
		present bool
	)
	m.store.View(func(s *store.Settings) {
		stored, ok := s.WorkspaceFilters[key]
		if !ok {
			return
		}
		present = true
		if len(stored) == 1 && stored[0] == hideAllSentinel {
			ids = []string{}
			return
		}
		ids = append([]string(nil), stored...)
	})
	if !present {
		return nil, false
	}
	return ids, true
}

// SetVisibleWorkspaceIDs replaces the allow-list for the active context.
// An empty list hides everything.
func (m *Manager) SetVisibleWorkspaceIDs(ids []string) error {
	key := m.filterKey()
	stored := append([]string(nil), ids...)
	if len(stored) == 0 {
		stored = []string{hideAllSentinel}
	}
	err := m.store.Mutate(func(s *store.Settings) {
		if s.WorkspaceFilters == nil {
			s.WorkspaceFilters = make(map[string][]string)
		}
		s.WorkspaceFilters[key] = stored
	})
	if err != nil {
		return err
	}
	m.propertyChanged.Emit("filters")
	return nil
}

// AddWorkspaceToFilters widens the active filter with id. A no-op when
// the context is unfiltered: everything is already visible.
func (m *Manager) AddWorkspaceToFilters(id string) error {
	ids, filtered := m.VisibleWorkspaceIDs()
	if !filtered {
		return nil
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return m.SetVisibleWorkspaceIDs(append(ids, id))
}

// ClearFilters removes the active context's filter, back to show-all.
func (m *Manager) ClearFilters() error {
	key := m.filterKey()
	err := m.store.Mutate(func(s *store.Settings) {
		delete(s.WorkspaceFilters, key)
	})
	if err != nil {
		return err
	}
	m.propertyChanged.Emit("filters")
	return nil
}

// IsWorkspaceVisible applies the active filter to one workspace id.
func (m *Manager) IsWorkspaceVisible(id string) bool {
	ids, filtered := m.VisibleWorkspaceIDs()
	if !filtered {
		return true
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
