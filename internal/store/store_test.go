package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func mustRegisterPrincipal(t *testing.T, s *SQLiteStore, name, project string) *Principal {
	t.Helper()
	p := &Principal{
		Name:            name,
		Project:         project,
		Discoverability: DiscoverabilityPublic,
		DMPolicy:        DMPolicyOpen,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.RegisterPrincipal(context.Background(), p))
	return p
}

func TestStore_RegisterProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RegisterProject(ctx, &Project{ID: "proj1", Path: "/repos/proj1", Name: "proj1", CreatedAt: time.Now()})
	require.NoError(t, err)

	// Idempotent: registering again succeeds and updates fields.
	err = s.RegisterProject(ctx, &Project{ID: "proj1", Path: "/repos/proj1", Name: "renamed", CreatedAt: time.Now()})
	require.NoError(t, err)

	got, err := s.GetProject(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestStore_GetProject_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RegisterPrincipal_GlobalAndProjectScoped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	mustRegisterPrincipal(t, s, "alice", "proj1")

	global, err := s.GetPrincipal(ctx, PrincipalKey{Name: "alice", Project: GlobalProject})
	require.NoError(t, err)
	assert.Equal(t, GlobalProject, global.Project)

	scoped, err := s.GetPrincipal(ctx, PrincipalKey{Name: "alice", Project: "proj1"})
	require.NoError(t, err)
	assert.Equal(t, "proj1", scoped.Project)
}

func TestStore_CreateChannel_DuplicateIDConflicts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	err := s.CreateChannel(ctx, c)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_DirectChannel_ExactlyTwoMembers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	mustRegisterPrincipal(t, s, "bob", GlobalProject)
	mustRegisterPrincipal(t, s, "carol", GlobalProject)

	c := &Channel{ID: "dm:alice:bob", Kind: ChannelKindDirect, Access: AccessPrivate, Scope: ScopeDirect, CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	now := time.Now()
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: false, CreatedAt: now}))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "bob", CanSend: true, CanLeave: false, CreatedAt: now}))

	err := s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "carol", CanSend: true, CreatedAt: now})
	assert.ErrorIs(t, err, ErrInvariant)

	err = s.RemoveMember(ctx, c.ID, PrincipalKey{Name: "alice"})
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestStore_NotesChannel_SingleMember(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	mustRegisterPrincipal(t, s, "bob", GlobalProject)

	c := &Channel{ID: "global:agent-notes:alice", Kind: ChannelKindRegular, Access: AccessPrivate, Scope: ScopeGlobal,
		NotesOwnerName: "alice", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: false, CreatedAt: time.Now()}))

	err := s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "bob", CanSend: true, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestStore_InsertMessage_RequiresCanSend(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	// Not a member at all.
	_, err := s.InsertMessage(ctx, NewMessage{ChannelID: c.ID, SenderName: "alice", Content: "hi", Timestamp: 1.0})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: false, CanLeave: true, CreatedAt: time.Now()}))
	_, err = s.InsertMessage(ctx, NewMessage{ChannelID: c.ID, SenderName: "alice", Content: "hi", Timestamp: 1.0})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))
	id, err := s.InsertMessage(ctx, NewMessage{ChannelID: c.ID, SenderName: "alice", Content: "hi", Timestamp: 1.0})
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestStore_ListMessages_ChronologicalOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))

	for i, content := range []string{"first", "second", "third"} {
		_, err := s.InsertMessage(ctx, NewMessage{ChannelID: c.ID, SenderName: "alice", Content: content, Timestamp: float64(i)})
		require.NoError(t, err)
	}

	messages, err := s.ListMessages(ctx, MessageFilter{ChannelID: c.ID})
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestStore_SearchMessagesFTS(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))

	_, err := s.InsertMessage(ctx, NewMessage{ChannelID: c.ID, SenderName: "alice", Content: "the quick brown fox", Timestamp: 1})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, NewMessage{ChannelID: c.ID, SenderName: "alice", Content: "lazy dog sleeps", Timestamp: 2})
	require.NoError(t, err)

	results, err := s.SearchMessagesFTS(ctx, c.ID, "fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "fox")
}

func TestStore_ComputeAccessView_OpenGlobalChannelIsJoinableWithoutMembership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	view, err := s.ComputeAccessView(ctx, PrincipalKey{Name: "ghost"}, c.ID)
	require.NoError(t, err)
	assert.True(t, view.HasAccess)
	assert.False(t, view.CanSend)
}

func TestStore_ComputeAccessView_PrivateChannelIsDeniedWithoutMembership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &Channel{ID: "global:secret", Kind: ChannelKindRegular, Access: AccessPrivate, Scope: ScopeGlobal, Name: "secret", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	view, err := s.ComputeAccessView(ctx, PrincipalKey{Name: "ghost"}, c.ID)
	require.NoError(t, err)
	assert.False(t, view.HasAccess)
	assert.False(t, view.VisibleInList)
}

func TestStore_ComputeAccessView_OpenProjectChannelRequiresSharedOrLinkedProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterProject(ctx, &Project{ID: "p1", Path: "/p1", Name: "p1", CreatedAt: time.Now()}))
	require.NoError(t, s.RegisterProject(ctx, &Project{ID: "p2", Path: "/p2", Name: "p2", CreatedAt: time.Now()}))

	c := &Channel{ID: "project:p1:design", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeProject, Project: "p1", Name: "design", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))

	outsider := PrincipalKey{Name: "bob", Project: "p2"}
	view, err := s.ComputeAccessView(ctx, outsider, c.ID)
	require.NoError(t, err)
	assert.False(t, view.HasAccess)

	require.NoError(t, s.LinkProjects(ctx, &ProjectLink{ProjectA: "p2", ProjectB: "p1", Type: LinkBidirectional, Enabled: true, CreatedAt: time.Now()}))

	view, err = s.ComputeAccessView(ctx, outsider, c.ID)
	require.NoError(t, err)
	assert.True(t, view.HasAccess)
	assert.False(t, view.CanSend)
}

func TestStore_ComputeAccessView_ArchivedChannelNotVisibleInListForMember(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))
	require.NoError(t, s.ArchiveChannel(ctx, c.ID))

	view, err := s.ComputeAccessView(ctx, PrincipalKey{Name: "alice"}, c.ID)
	require.NoError(t, err)
	assert.True(t, view.HasAccess)
	assert.False(t, view.VisibleInList)
}

func TestStore_ComputeDMAccessView_BlockListWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice := &Principal{Name: "alice", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyOpen, DMBlock: []string{"bob"}, CreatedAt: time.Now()}
	bob := &Principal{Name: "bob", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	require.NoError(t, s.RegisterPrincipal(ctx, alice))
	require.NoError(t, s.RegisterPrincipal(ctx, bob))

	allowed, reason, err := s.ComputeDMAccessView(ctx, PrincipalKey{Name: "alice"}, PrincipalKey{Name: "bob"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "blocked", reason)
}

func TestStore_ComputeDMAccessView_ClosedPolicyDenies(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice := &Principal{Name: "alice", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	bob := &Principal{Name: "bob", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyClosed, CreatedAt: time.Now()}
	require.NoError(t, s.RegisterPrincipal(ctx, alice))
	require.NoError(t, s.RegisterPrincipal(ctx, bob))

	allowed, _, err := s.ComputeDMAccessView(ctx, PrincipalKey{Name: "alice"}, PrincipalKey{Name: "bob"})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestStore_ComputeDMAccessView_RestrictedPolicyRequiresSharedChannel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice := &Principal{Name: "alice", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	bob := &Principal{Name: "bob", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyRestricted, CreatedAt: time.Now()}
	require.NoError(t, s.RegisterPrincipal(ctx, alice))
	require.NoError(t, s.RegisterPrincipal(ctx, bob))

	allowed, reason, err := s.ComputeDMAccessView(ctx, PrincipalKey{Name: "alice"}, PrincipalKey{Name: "bob"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "recipient dm_policy=restricted and no shared channel", reason)

	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "bob", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))

	allowed, _, err = s.ComputeDMAccessView(ctx, PrincipalKey{Name: "alice"}, PrincipalKey{Name: "bob"})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestStore_ComputeDMAccessView_RestrictedSenderIsAlsoChecked(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice := &Principal{Name: "alice", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyRestricted, CreatedAt: time.Now()}
	bob := &Principal{Name: "bob", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	require.NoError(t, s.RegisterPrincipal(ctx, alice))
	require.NoError(t, s.RegisterPrincipal(ctx, bob))

	allowed, reason, err := s.ComputeDMAccessView(ctx, PrincipalKey{Name: "alice"}, PrincipalKey{Name: "bob"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "sender dm_policy=restricted and no shared channel", reason)
}

func TestStore_ComputeDMAccessView_PrivateDiscoverabilityDenies(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice := &Principal{Name: "alice", Discoverability: DiscoverabilityPublic, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	bob := &Principal{Name: "bob", Discoverability: DiscoverabilityPrivate, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	require.NoError(t, s.RegisterPrincipal(ctx, alice))
	require.NoError(t, s.RegisterPrincipal(ctx, bob))

	allowed, reason, err := s.ComputeDMAccessView(ctx, PrincipalKey{Name: "alice"}, PrincipalKey{Name: "bob"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "recipient discoverability denies visibility", reason)
}

func TestStore_ListPrincipalsVisibleTo_RespectsProjectLinks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterProject(ctx, &Project{ID: "p1", Path: "/p1", Name: "p1", CreatedAt: time.Now()}))
	require.NoError(t, s.RegisterProject(ctx, &Project{ID: "p2", Path: "/p2", Name: "p2", CreatedAt: time.Now()}))

	private := &Principal{Name: "hidden", Project: "p2", Discoverability: DiscoverabilityProject, DMPolicy: DMPolicyOpen, CreatedAt: time.Now()}
	require.NoError(t, s.RegisterPrincipal(ctx, private))

	viewer := PrincipalKey{Name: "viewer", Project: "p1"}

	visible, err := s.ListPrincipalsVisibleTo(ctx, viewer)
	require.NoError(t, err)
	assert.NotContains(t, names(visible), "hidden")

	require.NoError(t, s.LinkProjects(ctx, &ProjectLink{ProjectA: "p1", ProjectB: "p2", Type: LinkBidirectional, Enabled: true, CreatedAt: time.Now()}))

	visible, err = s.ListPrincipalsVisibleTo(ctx, viewer)
	require.NoError(t, err)
	assert.Contains(t, names(visible), "hidden")
}

func names(ps []*Principal) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestStore_DeletePrincipal_CascadesMemberships(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustRegisterPrincipal(t, s, "alice", GlobalProject)
	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))
	require.NoError(t, s.AddMember(ctx, &Membership{ChannelID: c.ID, PrincipalName: "alice", CanSend: true, CanLeave: true, CreatedAt: time.Now()}))

	require.NoError(t, s.DeletePrincipal(ctx, PrincipalKey{Name: "alice"}))

	_, err := s.GetMembership(ctx, c.ID, PrincipalKey{Name: "alice"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ArchiveChannel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &Channel{ID: "global:general", Kind: ChannelKindRegular, Access: AccessOpen, Scope: ScopeGlobal, Name: "general", CreatedAt: time.Now()}
	require.NoError(t, s.CreateChannel(ctx, c))
	require.NoError(t, s.ArchiveChannel(ctx, c.ID))

	channels, err := s.ListChannels(ctx, ScopeGlobal, GlobalProject)
	require.NoError(t, err)
	assert.Empty(t, channels)

	got, err := s.GetChannel(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
}
