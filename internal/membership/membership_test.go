package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/claude-slack/internal/membership"
	"github.com/2389/claude-slack/internal/store"
)

func setupStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func registerPrincipal(t *testing.T, s store.Store, name, project string) store.PrincipalKey {
	t.Helper()
	p := &store.Principal{
		Name: name, Project: project,
		Discoverability: store.DiscoverabilityPublic,
		DMPolicy:        store.DMPolicyOpen,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.RegisterPrincipal(context.Background(), p))
	return p.Key()
}

func TestMayJoin_OpenGlobalChannel(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)

	ch := &store.Channel{ID: "global:general", Kind: store.ChannelKindRegular, Access: store.AccessOpen, Scope: store.ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, ch))

	ok, err := membership.MayJoin(ctx, s, alice, ch.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMayJoin_MembersOnlyChannelDenied(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)

	ch := &store.Channel{ID: "global:invite-only", Kind: store.ChannelKindRegular, Access: store.AccessMembers, Scope: store.ScopeGlobal, Name: "invite-only", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, ch))

	ok, err := membership.MayJoin(ctx, s, alice, ch.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMayJoin_CrossProjectRequiresLink(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.RegisterProject(ctx, &store.Project{ID: "proj-a", Path: "/a", CreatedAt: time.Now()}))
	require.NoError(t, s.RegisterProject(ctx, &store.Project{ID: "proj-b", Path: "/b", CreatedAt: time.Now()}))
	bob := registerPrincipal(t, s, "bob", "proj-b")

	ch := &store.Channel{ID: "proj_a:open", Kind: store.ChannelKindRegular, Access: store.AccessOpen, Scope: store.ScopeProject, Project: "proj-a", Name: "open", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, ch))

	ok, err := membership.MayJoin(ctx, s, bob, ch.ID)
	require.NoError(t, err)
	require.False(t, ok, "no link yet, must be denied")

	require.NoError(t, s.LinkProjects(ctx, &store.ProjectLink{ProjectA: "proj-b", ProjectB: "proj-a", Type: store.LinkBidirectional, Enabled: true, CreatedAt: time.Now()}))

	ok, err = membership.MayJoin(ctx, s, bob, ch.ID)
	require.NoError(t, err)
	require.True(t, ok, "bidirectional link should permit join")
}

func TestMayInvite_RequiresCanInvite(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)
	bob := registerPrincipal(t, s, "bob", store.GlobalProject)

	ch := &store.Channel{ID: "global:team", Kind: store.ChannelKindRegular, Access: store.AccessMembers, Scope: store.ScopeGlobal, Name: "team", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, ch))
	require.NoError(t, s.AddMember(ctx, &store.Membership{ChannelID: ch.ID, PrincipalName: "alice", CanSend: true, CanInvite: false, CreatedAt: time.Now()}))

	ok, err := membership.MayInvite(ctx, s, alice, ch.ID, bob)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.AddMember(ctx, &store.Membership{ChannelID: ch.ID, PrincipalName: "alice", CanSend: true, CanInvite: true, CreatedAt: time.Now()}))
	ok, err = membership.MayInvite(ctx, s, alice, ch.ID, bob)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMayLeave_DirectChannelAlwaysDenied(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)
	registerPrincipal(t, s, "bob", store.GlobalProject)

	ch := &store.Channel{ID: "dm:alice:bob", Kind: store.ChannelKindDirect, Access: store.AccessPrivate, Scope: store.ScopeDirect, Name: "dm", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, ch))
	require.NoError(t, s.AddMember(ctx, &store.Membership{ChannelID: ch.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))

	ok, err := membership.MayLeave(ctx, s, alice, ch.ID)
	require.NoError(t, err)
	require.False(t, ok, "direct channels never allow leaving regardless of can_leave")
}

func TestMaySend_AbsentMembershipDenied(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)
	ch := &store.Channel{ID: "global:general", Kind: store.ChannelKindRegular, Access: store.AccessOpen, Scope: store.ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, ch))

	ok, err := membership.MaySend(ctx, s, alice, ch.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMayDM_DelegatesToAccessView(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)
	bob := registerPrincipal(t, s, "bob", store.GlobalProject)

	ok, reason, err := membership.MayDM(ctx, s, alice, bob)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "allowed", reason)
}

func TestDefaultProvision_SkipsExcludedAndNeverDefault(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)

	def := &store.Channel{ID: "global:general", Kind: store.ChannelKindRegular, Access: store.AccessOpen, Scope: store.ScopeGlobal, Name: "general", IsDefault: true, CreatedAt: time.Now()}
	excluded := &store.Channel{ID: "global:announcements", Kind: store.ChannelKindRegular, Access: store.AccessOpen, Scope: store.ScopeGlobal, Name: "announcements", IsDefault: true, CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, def))
	require.NoError(t, s.CreateChannel(ctx, excluded))

	require.NoError(t, membership.DefaultProvision(ctx, s, alice, map[string]bool{"global:announcements": true}, false, nil))

	_, err := s.GetMembership(ctx, def.ID, alice)
	require.NoError(t, err)
	_, err = s.GetMembership(ctx, excluded.ID, alice)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDefaultProvision_NeverDefaultSkipsAll(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)
	def := &store.Channel{ID: "global:general", Kind: store.ChannelKindRegular, Access: store.AccessOpen, Scope: store.ScopeGlobal, Name: "general", IsDefault: true, CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, def))

	require.NoError(t, membership.DefaultProvision(ctx, s, alice, nil, true, nil))

	_, err := s.GetMembership(ctx, def.ID, alice)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProvisionNotesChannel_IdempotentAndSingleMember(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := registerPrincipal(t, s, "alice", store.GlobalProject)

	id1, err := membership.ProvisionNotesChannel(ctx, s, alice)
	require.NoError(t, err)

	id2, err := membership.ProvisionNotesChannel(ctx, s, alice)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	m, err := s.GetMembership(ctx, id1, alice)
	require.NoError(t, err)
	require.False(t, m.CanLeave)
	require.True(t, m.CanSend)
}
