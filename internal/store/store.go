// ABOUTME: Store interface and data types for the claude-slack core persistence layer
// ABOUTME: Defines Project, Principal, Channel, Membership, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on a unique or check constraint violation, e.g.
// creating a channel or project whose id already exists.
var ErrConflict = errors.New("conflict")

// ErrInvariant is returned when an operation would violate a structural
// invariant of the data model (e.g. removing a member from a direct
// channel, which must always carry exactly two members).
var ErrInvariant = errors.New("invariant violation")

// GlobalProject is the sentinel project id used in place of SQL NULL for
// "this principal/channel belongs to no project". SQLite treats NULL as
// distinct per-row even inside a composite primary key, so two global
// principals named the same would never collide on (name, project_id) if
// project_id were left NULL. Storing the empty string instead makes the
// composite key behave the way the rest of the schema assumes.
const GlobalProject = ""

// ProjectKey normalizes an optional project id to its storage form. Callers
// should always go through this helper rather than branching on "" or nil
// themselves, so the GlobalProject sentinel never leaks as a magic string.
func ProjectKey(projectID string) string {
	return projectID
}

// Discoverability controls whether a principal is visible to listing calls
// outside its own project.
type Discoverability string

const (
	DiscoverabilityPublic  Discoverability = "public"
	DiscoverabilityProject Discoverability = "project"
	DiscoverabilityPrivate Discoverability = "private"
)

// DMPolicy controls whether a principal accepts unsolicited direct messages.
type DMPolicy string

const (
	DMPolicyOpen       DMPolicy = "open"
	DMPolicyRestricted DMPolicy = "restricted"
	DMPolicyClosed     DMPolicy = "closed"
)

// ChannelKind distinguishes regular multi-member channels from fixed
// two-party direct channels.
type ChannelKind string

const (
	ChannelKindRegular ChannelKind = "regular"
	ChannelKindDirect  ChannelKind = "direct"
)

// ChannelAccess controls how a principal may come to be a member.
type ChannelAccess string

const (
	AccessOpen    ChannelAccess = "open"
	AccessMembers ChannelAccess = "members"
	AccessPrivate ChannelAccess = "private"
)

// ChannelScope is the tenancy a channel lives in.
type ChannelScope string

const (
	ScopeGlobal  ChannelScope = "global"
	ScopeProject ChannelScope = "project"
	ScopeDirect  ChannelScope = "direct"
)

// MemberSource records how a membership row came to exist.
type MemberSource string

const (
	SourceManual     MemberSource = "manual"
	SourceFrontmatter MemberSource = "frontmatter"
	SourceDefault    MemberSource = "default"
	SourceSystem     MemberSource = "system"
	SourceInvitation MemberSource = "invitation"
)

// LinkType describes the direction of a project link's authorization.
type LinkType string

const (
	LinkBidirectional LinkType = "bidirectional"
	LinkAToB          LinkType = "a_to_b"
	LinkBToA          LinkType = "b_to_a"
)

// Project is a tenant isolation boundary, keyed by an opaque id derived
// from an absolute filesystem path.
type Project struct {
	ID        string
	Path      string
	Name      string
	CreatedAt time.Time
}

// PrincipalKey identifies a principal by its composite (name, project)
// identity. Project is GlobalProject for principals with no owning project.
type PrincipalKey struct {
	Name    string
	Project string
}

// Principal is an addressable actor: an agent, user, or service.
type Principal struct {
	Name            string
	Project         string // GlobalProject if none
	Description     string
	Discoverability Discoverability
	DMPolicy        DMPolicy
	DMAllow         []string // principal ids explicitly allowed to DM regardless of policy
	DMBlock         []string // principal ids explicitly blocked regardless of policy
	CreatedAt       time.Time
}

// Key returns the principal's composite identity.
func (p Principal) Key() PrincipalKey {
	return PrincipalKey{Name: p.Name, Project: p.Project}
}

// Channel is a conversation container.
type Channel struct {
	ID                   string
	Kind                 ChannelKind
	Access               ChannelAccess
	Scope                ChannelScope
	Project              string // GlobalProject for global/direct channels
	Name                 string
	Description          string
	IsDefault            bool
	Archived             bool
	NotesOwnerName       string // non-empty only for notes channels
	NotesOwnerProject    string
	CreatedAt            time.Time
}

// IsNotesChannel reports whether c is a single-member notes/journal channel.
func (c Channel) IsNotesChannel() bool {
	return c.NotesOwnerName != ""
}

// Membership is the only structure conferring access to a channel.
type Membership struct {
	ChannelID           string
	PrincipalName       string
	PrincipalProject    string
	Inviter             string // "self", "system", or a principal id
	Source              MemberSource
	CanSend             bool
	CanInvite           bool
	CanLeave            bool
	CanManage           bool
	FromDefault         bool
	OptedOut            bool
	CreatedAt           time.Time
}

// PrincipalKey returns the member's composite principal identity.
func (m Membership) PrincipalKey() PrincipalKey {
	return PrincipalKey{Name: m.PrincipalName, Project: m.PrincipalProject}
}

// NewMessage is the set of fields a caller supplies to insert a message;
// ID, CreatedAt are assigned by the store.
type NewMessage struct {
	ChannelID        string
	SenderName       string
	SenderProject    string
	Content          string
	Timestamp        float64 // Unix seconds, UTC
	Confidence       *float64
	Metadata         map[string]any
	Tags             []string
	SessionContext   string
	ThreadID         string
}

// Message is an immutable content event within a channel.
type Message struct {
	ID             int64
	ChannelID      string
	SenderName     string
	SenderProject  string
	Content        string
	Timestamp      float64
	Confidence     *float64
	Metadata       map[string]any
	Tags           []string
	SessionContext string
	ThreadID       string
	CreatedAt      time.Time
}

// ProjectLink is a symmetric or directed authorization enabling
// cross-project discovery and cross-project self-join of open channels.
type ProjectLink struct {
	ProjectA  string
	ProjectB  string
	Type      LinkType
	Enabled   bool
	CreatedAt time.Time
}

// AccessView is the decision procedure result for (principal, channel):
// whether the principal has access, what capabilities it carries, and
// whether the channel should appear in the principal's channel list.
type AccessView struct {
	HasAccess    bool
	CanSend      bool
	CanInvite    bool
	CanLeave     bool
	CanManage    bool
	VisibleInList bool
}

// MessageFilter narrows ListMessages to a window of a channel's history.
type MessageFilter struct {
	ChannelID string
	Since     *float64
	Until     *float64
	Limit     int
}

// Store defines the full set of relational operations over the core data
// model: projects, principals, channels, memberships, messages, and
// project links, plus the two read-only access views.
type Store interface {
	// Projects
	RegisterProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	// Principals
	RegisterPrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, key PrincipalKey) (*Principal, error)
	ListPrincipalsVisibleTo(ctx context.Context, viewer PrincipalKey) ([]*Principal, error)
	DeletePrincipal(ctx context.Context, key PrincipalKey) error

	// Channels
	CreateChannel(ctx context.Context, c *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	ListChannels(ctx context.Context, scope ChannelScope, project string) ([]*Channel, error)
	ArchiveChannel(ctx context.Context, id string) error

	// Memberships
	AddMember(ctx context.Context, m *Membership) error
	RemoveMember(ctx context.Context, channelID string, principal PrincipalKey) error
	GetMembership(ctx context.Context, channelID string, principal PrincipalKey) (*Membership, error)
	ListMembers(ctx context.Context, channelID string) ([]*Membership, error)
	ListMemberships(ctx context.Context, principal PrincipalKey) ([]*Membership, error)

	// Messages
	InsertMessage(ctx context.Context, msg NewMessage) (int64, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error)
	SearchMessagesFTS(ctx context.Context, channelID, query string, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	GetMessages(ctx context.Context, params GetMessagesParams) (*GetMessagesResult, error)

	// Project links
	LinkProjects(ctx context.Context, link *ProjectLink) error
	UnlinkProjects(ctx context.Context, a, b string) error
	GetProjectLink(ctx context.Context, a, b string) (*ProjectLink, error)

	// Access views — the only sanctioned way client code computes access;
	// called from internal/membership and internal/facade.
	ComputeAccessView(ctx context.Context, principal PrincipalKey, channelID string) (AccessView, error)
	ComputeDMAccessView(ctx context.Context, a, b PrincipalKey) (allowed bool, reason string, err error)

	// Close releases any resources held by the store.
	Close() error
}
