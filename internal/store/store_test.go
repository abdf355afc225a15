package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.json"))
}

func TestLoadMissingFile(t *testing.T) {
	st := newTestStore(t)

	existed, err := st.Load()
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMutatePersistsBeforeReturn(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Load()
	require.NoError(t, err)

	err = st.Mutate(func(s *Settings) {
		s.MostRecentWorkspace = "ws-1"
		s.LoginState = true
	})
	require.NoError(t, err)

	// A second store reading the same file must observe the mutation:
	// the write completed before Mutate returned.
	reopened := New(st.Path())
	existed, err := reopened.Load()
	require.NoError(t, err)
	assert.True(t, existed)

	var got string
	reopened.View(func(s *Settings) { got = s.MostRecentWorkspace })
	assert.Equal(t, "ws-1", got)
}

func TestLoadCorruptFile(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(st.Path()), 0o700))
	require.NoError(t, os.WriteFile(st.Path(), []byte("{not json"), 0o600))

	existed, err := st.Load()
	assert.True(t, existed)
	assert.Error(t, err)
}

func TestViewReturnsSnapshot(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mutate(func(s *Settings) {
		s.SetWorkspaceFolder("ws-1", "/data/one")
	}))

	var snapshot *Settings
	st.View(func(s *Settings) { snapshot = s })

	// Mutating the snapshot must not leak into the store.
	snapshot.SetWorkspaceFolder("ws-1", "/data/tampered")
	snapshot.CurrentTenant = &types.Tenant{TenantID: "t-evil"}

	st.View(func(s *Settings) {
		folder, ok := s.WorkspaceFolder("ws-1")
		assert.True(t, ok)
		assert.Equal(t, "/data/one", folder)
		assert.Nil(t, s.CurrentTenant)
	})
}

func TestFolderTombstones(t *testing.T) {
	var s Settings

	s.SetWorkspaceFolder("ws-1", "")
	_, ok := s.WorkspaceFolder("ws-1")
	assert.False(t, ok, "empty stored path is a tombstone")

	s.SetArtifactFolder("art-1", "")
	_, ok = s.ArtifactFolder("art-1")
	assert.False(t, ok)

	s.SetWorkspaceFolder("ws-1", "/data/one")
	folder, ok := s.WorkspaceFolder("ws-1")
	assert.True(t, ok)
	assert.Equal(t, "/data/one", folder)
}

func TestSetFolderUpserts(t *testing.T) {
	var s Settings

	s.SetWorkspaceFolder("ws-1", "/a")
	s.SetWorkspaceFolder("ws-1", "/b")
	assert.Len(t, s.Workspaces, 1)

	folder, _ := s.WorkspaceFolder("ws-1")
	assert.Equal(t, "/b", folder)
}

func TestBackupRotation(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"), WithBackups(2))
	_, err := st.Load()
	require.NoError(t, err)

	for i, ws := range []string{"first", "second", "third", "fourth"} {
		require.NoError(t, st.Mutate(func(s *Settings) {
			s.MostRecentWorkspace = ws
		}), "mutation %d", i)
	}

	backups := st.Backups()
	require.Len(t, backups, 2)

	// Newest backup holds the state as of the previous save.
	data, err := ReadBackup(backups[0])
	require.NoError(t, err)

	var prev Settings
	require.NoError(t, sonic.Unmarshal(data, &prev))
	assert.Equal(t, "third", prev.MostRecentWorkspace)
}

func TestSaveHook(t *testing.T) {
	saves := 0
	st := New(filepath.Join(t.TempDir(), "state.json"), WithSaveHook(func() { saves++ }))

	require.NoError(t, st.Mutate(func(s *Settings) { s.LoginState = true }))
	require.NoError(t, st.Mutate(func(s *Settings) { s.LoginState = false }))

	assert.Equal(t, 2, saves, "one save per Mutate call")
}

func TestPersistedLayoutRoundTrip(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mutate(func(s *Settings) {
		s.CurrentTenant = &types.Tenant{TenantID: "t-1", DisplayName: "Contoso", DefaultDomain: "contoso.dev"}
		s.MostRecentWorkspace = "ws-9"
		s.LoginState = true
		s.SetWorkspaceFolder("ws-9", "/data/nine")
		s.SetArtifactFolder("art-3", "/data/nine/Custom")
		s.WorkspaceFilters = map[string][]string{"public:t-1": {"ws-9"}}
		s.ViewState = map[string]*ViewState{
			"public:t-1": {
				ExpandedTenants:           []string{"t-1"},
				ExpandedWorkspaces:        []string{"ws-9"},
				ExpandedGroupsByWorkspace: map[string][]string{"ws-9": {"Notebook"}},
			},
		}
	}))

	reopened := New(st.Path())
	_, err := reopened.Load()
	require.NoError(t, err)

	reopened.View(func(s *Settings) {
		require.NotNil(t, s.CurrentTenant)
		assert.Equal(t, "t-1", s.CurrentTenant.TenantID)
		assert.Equal(t, "ws-9", s.MostRecentWorkspace)
		assert.True(t, s.LoginState)

		folder, ok := s.WorkspaceFolder("ws-9")
		assert.True(t, ok)
		assert.Equal(t, "/data/nine", folder)

		override, ok := s.ArtifactFolder("art-3")
		assert.True(t, ok)
		assert.Equal(t, "/data/nine/Custom", override)

		assert.Equal(t, []string{"ws-9"}, s.WorkspaceFilters["public:t-1"])
		require.NotNil(t, s.ViewState["public:t-1"])
		assert.Equal(t, []string{"Notebook"}, s.ViewState["public:t-1"].ExpandedGroupsByWorkspace["ws-9"])
	})
}
