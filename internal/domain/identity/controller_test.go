package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian-sync/internal/shared/clock"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

type fakeProvider struct {
	mu         sync.Mutex
	signedIn   bool
	signInOK   bool
	signInErr  error
	tenants    []types.Tenant
	tenantsErr error
	feed       *events.Feed[events.Signal]
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		signInOK: true,
		feed:     events.NewFeed[events.Signal](),
	}
}

func (f *fakeProvider) setSignedIn(v bool) {
	f.mu.Lock()
	f.signedIn = v
	f.mu.Unlock()
}

func (f *fakeProvider) IsSignedIn(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signedIn, nil
}

func (f *fakeProvider) SignIn(context.Context, string) (bool, error) {
	if f.signInErr != nil {
		return false, f.signInErr
	}
	if !f.signInOK {
		return false, nil
	}
	f.setSignedIn(true)
	f.feed.Emit(events.Signal{})
	return true, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.setSignedIn(false)
	f.feed.Emit(events.Signal{})
	return nil
}

func (f *fakeProvider) Tenants(context.Context) ([]types.Tenant, error) {
	return f.tenants, f.tenantsErr
}

func (f *fakeProvider) SessionInfo(context.Context) (*SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signedIn {
		return nil, nil
	}
	return &SessionInfo{Account: "dev@meridian.dev"}, nil
}

func (f *fakeProvider) SessionChanged() *events.Feed[events.Signal] {
	return f.feed
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "state.json"))
	_, err := st.Load()
	require.NoError(t, err)
	return st
}

func countSignals(f *events.Feed[events.Signal]) *int32 {
	var n int32
	f.Subscribe(func(events.Signal) { atomic.AddInt32(&n, 1) })
	return &n
}

func TestStartLoadsRememberedTenant(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mutate(func(s *store.Settings) {
		s.CurrentTenant = &types.Tenant{TenantID: "t1", DisplayName: "Contoso"}
	}))

	provider := newFakeProvider()
	provider.setSignedIn(true)

	c := NewController(provider, st)
	c.Start(context.Background())
	defer c.Close()

	assert.Equal(t, State{SignedIn: true, TenantID: "t1"}, c.State())
}

func TestStartBaselineEmitsNothing(t *testing.T) {
	provider := newFakeProvider()
	provider.setSignedIn(true)

	c := NewController(provider, newTestStore(t))
	signIns := countSignals(c.SignInChanged())
	tenantChanges := countSignals(c.TenantChanged())

	c.Start(context.Background())
	defer c.Close()

	assert.True(t, c.State().SignedIn)
	assert.Zero(t, atomic.LoadInt32(signIns))
	assert.Zero(t, atomic.LoadInt32(tenantChanges))
}

func TestTransitionEmitsOnlyOnFlip(t *testing.T) {
	provider := newFakeProvider()
	c := NewController(provider, newTestStore(t))
	c.Start(context.Background())
	defer c.Close()

	signIns := countSignals(c.SignInChanged())

	provider.setSignedIn(true)
	provider.feed.Emit(events.Signal{})
	assert.EqualValues(t, 1, atomic.LoadInt32(signIns))
	assert.True(t, c.State().SignedIn)

	// Same underlying state; the trigger must be silent.
	provider.feed.Emit(events.Signal{})
	assert.EqualValues(t, 1, atomic.LoadInt32(signIns))
}

func TestConcurrentTriggersEmitAtMostOnce(t *testing.T) {
	provider := newFakeProvider()
	c := NewController(provider, newTestStore(t))
	c.Start(context.Background())
	defer c.Close()

	signIns := countSignals(c.SignInChanged())
	provider.setSignedIn(true)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			provider.feed.Emit(events.Signal{})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(signIns),
		"the second trigger re-evaluates against the updated state and stays silent")
}

func TestSignOutClearsTenant(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mutate(func(s *store.Settings) {
		s.CurrentTenant = &types.Tenant{TenantID: "t1"}
		s.LoginState = true
	}))

	provider := newFakeProvider()
	provider.setSignedIn(true)

	c := NewController(provider, st)
	c.Start(context.Background())
	defer c.Close()

	signIns := countSignals(c.SignInChanged())
	tenantChanges := countSignals(c.TenantChanged())

	require.NoError(t, c.SignOut(context.Background()))

	assert.Equal(t, State{}, c.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(signIns))
	assert.EqualValues(t, 1, atomic.LoadInt32(tenantChanges))

	st.View(func(s *store.Settings) {
		assert.Nil(t, s.CurrentTenant)
		assert.False(t, s.LoginState)
	})
}

func TestSignInSwitchesTenant(t *testing.T) {
	st := newTestStore(t)
	provider := newFakeProvider()
	provider.tenants = []types.Tenant{
		{TenantID: "t1", DisplayName: "Contoso"},
		{TenantID: "t2", DisplayName: "Fabrikam"},
	}

	c := NewController(provider, st)
	c.Start(context.Background())
	defer c.Close()

	signIns := countSignals(c.SignInChanged())
	tenantChanges := countSignals(c.TenantChanged())

	ok, err := c.SignIn(context.Background(), "t2")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, State{SignedIn: true, TenantID: "t2"}, c.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(signIns))
	assert.EqualValues(t, 1, atomic.LoadInt32(tenantChanges))

	st.View(func(s *store.Settings) {
		require.NotNil(t, s.CurrentTenant)
		assert.Equal(t, "t2", s.CurrentTenant.TenantID)
		assert.Equal(t, "Fabrikam", s.CurrentTenant.DisplayName)
	})
}

func TestSignInSameTenantFiresNoTenantChange(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mutate(func(s *store.Settings) {
		s.CurrentTenant = &types.Tenant{TenantID: "t2"}
	}))

	provider := newFakeProvider()
	c := NewController(provider, st)
	c.Start(context.Background())
	defer c.Close()

	tenantChanges := countSignals(c.TenantChanged())

	ok, err := c.SignIn(context.Background(), "t2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, atomic.LoadInt32(tenantChanges))
}

func TestSignInAbandoned(t *testing.T) {
	provider := newFakeProvider()
	provider.signInOK = false

	c := NewController(provider, newTestStore(t))
	c.Start(context.Background())
	defer c.Close()

	ok, err := c.SignIn(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.State().SignedIn)
}

func TestTenantsFailSoft(t *testing.T) {
	provider := newFakeProvider()
	provider.tenantsErr = errors.New("identity service unreachable")

	c := NewController(provider, newTestStore(t))
	c.Start(context.Background())
	defer c.Close()

	assert.Empty(t, c.Tenants(context.Background()))
	assert.Nil(t, c.CurrentTenant(context.Background()))
}

func TestCurrentTenantResolution(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Mutate(func(s *store.Settings) {
		s.CurrentTenant = &types.Tenant{TenantID: "t1"}
	}))

	provider := newFakeProvider()
	provider.setSignedIn(true)
	provider.tenants = []types.Tenant{{TenantID: "t1", DisplayName: "Contoso", DefaultDomain: "contoso.dev"}}

	c := NewController(provider, st)
	c.Start(context.Background())
	defer c.Close()

	got := c.CurrentTenant(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, "Contoso", got.DisplayName)

	t.Run("unresolvable id", func(t *testing.T) {
		provider.tenants = []types.Tenant{{TenantID: "other"}}
		assert.Nil(t, c.CurrentTenant(context.Background()))
	})

	t.Run("signed out", func(t *testing.T) {
		provider.tenants = []types.Tenant{{TenantID: "t1"}}
		provider.setSignedIn(false)
		provider.feed.Emit(events.Signal{})
		assert.Nil(t, c.CurrentTenant(context.Background()))
	})
}

func TestWaitForSignIn(t *testing.T) {
	t.Run("already signed in", func(t *testing.T) {
		provider := newFakeProvider()
		provider.setSignedIn(true)
		c := NewController(provider, newTestStore(t))
		c.Start(context.Background())
		defer c.Close()

		assert.True(t, c.WaitForSignIn(context.Background()))
	})

	t.Run("completes on signal", func(t *testing.T) {
		provider := newFakeProvider()
		clk := clock.NewFake(time.Unix(1_700_000_000, 0))
		c := NewController(provider, newTestStore(t), WithClock(clk))
		c.Start(context.Background())
		defer c.Close()

		result := make(chan bool, 1)
		go func() { result <- c.WaitForSignIn(context.Background()) }()

		clk.WaitForTimers(1)
		provider.setSignedIn(true)
		provider.feed.Emit(events.Signal{})

		assert.True(t, <-result)
	})

	t.Run("caps at sixty seconds", func(t *testing.T) {
		provider := newFakeProvider()
		clk := clock.NewFake(time.Unix(1_700_000_000, 0))
		c := NewController(provider, newTestStore(t), WithClock(clk))
		c.Start(context.Background())
		defer c.Close()

		result := make(chan bool, 1)
		go func() { result <- c.WaitForSignIn(context.Background()) }()

		clk.WaitForTimers(1)
		clk.Advance(signInWaitCap)

		assert.False(t, <-result)
		assert.Zero(t, c.SignInChanged().Len(), "wait subscription must be cancelled")
	})
}
