// Package store provides persistent storage for the claude-slack core using
// SQLite.
//
// # Architecture
//
// SQLiteStore implements the Store interface, the single relational
// authority for projects, principals, channels, memberships, and messages.
// Two read-only access views (ComputeAccessView, ComputeDMAccessView) are
// computed here, directly over channel_members, because internal/membership
// treats them as pure reads rather than reimplementing the join logic.
//
// # Data Models
//
//   - Project: a tenant isolation boundary keyed by an opaque id derived
//     from an absolute path.
//   - Principal: an addressable actor, keyed by (name, project-or-global).
//   - Channel: a conversation container — regular or direct, open/members/
//     private, global/project/direct scoped.
//   - Membership: the only structure conferring access to a channel.
//   - Message: an immutable content event within a channel.
//   - ProjectLink: an authorization enabling cross-project discovery and
//     cross-project self-join.
//
// # SQLite Configuration
//
// WAL journal mode and foreign key enforcement are turned on at open:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist.
//   - ErrConflict: unique or check constraint violation.
//   - ErrInvariant: operation would break a structural invariant (e.g.
//     removing a member from a fixed two-party direct channel).
//   - ErrNotAuthorized: write attempted without the required capability.
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for fast in-process integration tests.
package store
