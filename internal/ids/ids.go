// ABOUTME: Deterministic id grammars for channels and principals
// ABOUTME: Pure functions with no store dependency, so callers can compute ids before any write

package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/2389/claude-slack/internal/store"
)

// Scope mirrors store.ChannelScope but is re-exported here so callers don't
// need to import internal/store just to build an id.
type Scope = store.ChannelScope

const (
	Global  = store.ScopeGlobal
	Project = store.ScopeProject
	Direct  = store.ScopeDirect
)

// projectPrefix8 derives the 8-character project-id prefix used in channel
// ids. Real project ids are already opaque short ids in this deployment's
// convention; hashing guards against a caller passing a raw filesystem path.
func projectPrefix8(projectID string) string {
	if projectID == store.GlobalProject {
		return ""
	}
	if len(projectID) <= 8 && isHex(projectID) {
		return projectID
	}
	sum := sha256.Sum256([]byte(projectID))
	return hex.EncodeToString(sum[:])[:8]
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return len(s) > 0
}

// ChannelID builds a regular channel's id from its scope, owning project
// (ignored for global scope), and display name.
func ChannelID(scope Scope, projectID, name string) string {
	switch scope {
	case store.ScopeProject:
		return "proj_" + projectPrefix8(projectID) + ":" + name
	default:
		return "global:" + name
	}
}

// PrincipalID renders a principal key as "<name>" for global principals or
// "<name>@proj_<id8>" for project-scoped ones.
func PrincipalID(p store.PrincipalKey) string {
	if p.Project == store.GlobalProject {
		return p.Name
	}
	return p.Name + "@proj_" + projectPrefix8(p.Project)
}

// DirectChannelID builds a fixed two-party direct channel id. The two
// (name, project) pairs are sorted lexicographically by name, then by
// project id, with "absent" (global) sorting before "present" (project
// scoped) per spec.
func DirectChannelID(a, b store.PrincipalKey) string {
	first, second := a, b
	if directLess(b, a) {
		first, second = b, a
	}
	return "dm:" + directSegment(first) + ":" + directSegment(second)
}

func directLess(x, y store.PrincipalKey) bool {
	if x.Name != y.Name {
		return x.Name < y.Name
	}
	// absent (global) sorts before present (project-scoped).
	xAbsent := x.Project == store.GlobalProject
	yAbsent := y.Project == store.GlobalProject
	if xAbsent != yAbsent {
		return xAbsent
	}
	return x.Project < y.Project
}

func directSegment(p store.PrincipalKey) string {
	if p.Project == store.GlobalProject {
		return p.Name
	}
	return p.Name + ":" + projectPrefix8(p.Project)
}

// NotesChannelID builds the single-member journal channel id for a
// principal scoped either globally or to a project.
func NotesChannelID(scope Scope, projectID, ownerName string) string {
	prefix := "global"
	if scope == store.ScopeProject {
		prefix = "proj_" + projectPrefix8(projectID)
	}
	return prefix + ":agent-notes:" + ownerName
}

// ParseDirectChannelID parses a direct channel id back into its two
// principal keys. It accepts both the canonical four-segment form
// (dm:<a>:<aproj8>:<b>:<bproj8>, with empty project segments omitted) and
// the legacy two-segment form (dm:<a>:<b>) that predates per-side project
// suffixes, per the Open Questions resolution: older ids are read as
// legacy and treated as two global principals.
func ParseDirectChannelID(id string) (a, b store.PrincipalKey, ok bool) {
	if !strings.HasPrefix(id, "dm:") {
		return store.PrincipalKey{}, store.PrincipalKey{}, false
	}
	rest := strings.TrimPrefix(id, "dm:")
	parts := strings.Split(rest, ":")

	switch len(parts) {
	case 2:
		// Legacy form: dm:<a>:<b>, both global.
		return store.PrincipalKey{Name: parts[0]}, store.PrincipalKey{Name: parts[1]}, true
	case 3:
		// One side carries a project suffix; ambiguous which, so this
		// form is only produced by the 4-segment encoder when one side
		// is global — try name:proj:name first (a scoped, b global).
		return store.PrincipalKey{Name: parts[0], Project: parts[1]}, store.PrincipalKey{Name: parts[2]}, true
	case 4:
		return store.PrincipalKey{Name: parts[0], Project: parts[1]}, store.PrincipalKey{Name: parts[2], Project: parts[3]}, true
	default:
		return store.PrincipalKey{}, store.PrincipalKey{}, false
	}
}
