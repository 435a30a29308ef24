package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/claude-slack/internal/ids"
	"github.com/2389/claude-slack/internal/store"
)

func TestChannelID_Global(t *testing.T) {
	assert.Equal(t, "global:general", ids.ChannelID(ids.Global, store.GlobalProject, "general"))
}

func TestChannelID_Project(t *testing.T) {
	id := ids.ChannelID(ids.Project, "proj1", "general")
	assert.Contains(t, id, ":general")
	assert.True(t, len(id) > len("proj_:general"))
}

func TestPrincipalID(t *testing.T) {
	assert.Equal(t, "alice", ids.PrincipalID(store.PrincipalKey{Name: "alice"}))

	scoped := ids.PrincipalID(store.PrincipalKey{Name: "alice", Project: "proj1"})
	assert.Contains(t, scoped, "alice@proj_")
}

func TestDirectChannelID_Deterministic(t *testing.T) {
	a := store.PrincipalKey{Name: "bob"}
	b := store.PrincipalKey{Name: "alice"}

	id1 := ids.DirectChannelID(a, b)
	id2 := ids.DirectChannelID(b, a)
	assert.Equal(t, id1, id2, "order of arguments must not affect the computed id")
	assert.Equal(t, "dm:alice:bob", id1)
}

func TestDirectChannelID_GlobalSortsBeforeProjectScoped(t *testing.T) {
	global := store.PrincipalKey{Name: "alice"}
	scoped := store.PrincipalKey{Name: "alice", Project: "proj1"}

	id := ids.DirectChannelID(scoped, global)
	assert.True(t, len(id) > 0)
	// The global (absent-project) segment must come first among equal names.
	assert.Regexp(t, "^dm:alice:alice:", id)
	assert.Equal(t, ids.DirectChannelID(global, scoped), id)
}

func TestNotesChannelID(t *testing.T) {
	assert.Equal(t, "global:agent-notes:alice", ids.NotesChannelID(ids.Global, store.GlobalProject, "alice"))

	scoped := ids.NotesChannelID(ids.Project, "proj1", "alice")
	assert.Contains(t, scoped, ":agent-notes:alice")
	assert.True(t, len(scoped) > len("proj_:agent-notes:alice"))
}

func TestParseDirectChannelID_CanonicalForm(t *testing.T) {
	a, b, ok := ids.ParseDirectChannelID("dm:alice::bob:")
	assert.True(t, ok)
	assert.Equal(t, "alice", a.Name)
	assert.Equal(t, "bob", b.Name)
}

func TestParseDirectChannelID_LegacyTwoSegmentForm(t *testing.T) {
	a, b, ok := ids.ParseDirectChannelID("dm:alice:bob")
	assert.True(t, ok)
	assert.Equal(t, store.PrincipalKey{Name: "alice"}, a)
	assert.Equal(t, store.PrincipalKey{Name: "bob"}, b)
}

func TestParseDirectChannelID_RejectsNonDirectID(t *testing.T) {
	_, _, ok := ids.ParseDirectChannelID("global:general")
	assert.False(t, ok)
}
