// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides project/principal/channel/membership/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path. The schema is
// automatically created if it doesn't exist. Parent directories are created
// if needed. Pass ":memory:" for an ephemeral in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// Schema segments split for maintainability, matching the grouping the
// teacher uses (core tables, then satellite tables).
var schemaCoreSQL = `
CREATE TABLE IF NOT EXISTS projects (id TEXT PRIMARY KEY, path TEXT NOT NULL UNIQUE, name TEXT NOT NULL, created_at TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS principals (name TEXT NOT NULL, project_id TEXT NOT NULL DEFAULT '', description TEXT NOT NULL DEFAULT '', discoverability TEXT NOT NULL DEFAULT 'public', dm_policy TEXT NOT NULL DEFAULT 'open', dm_allow TEXT NOT NULL DEFAULT '[]', dm_block TEXT NOT NULL DEFAULT '[]', created_at TEXT NOT NULL, PRIMARY KEY (name, project_id), CHECK (discoverability IN ('public','project','private')), CHECK (dm_policy IN ('open','restricted','closed')));
CREATE INDEX IF NOT EXISTS idx_principals_project ON principals(project_id);
CREATE TABLE IF NOT EXISTS channels (id TEXT PRIMARY KEY, kind TEXT NOT NULL, access TEXT NOT NULL, scope TEXT NOT NULL, project_id TEXT NOT NULL DEFAULT '', name TEXT NOT NULL, description TEXT NOT NULL DEFAULT '', is_default INTEGER NOT NULL DEFAULT 0, archived INTEGER NOT NULL DEFAULT 0, notes_owner_name TEXT NOT NULL DEFAULT '', notes_owner_project_id TEXT NOT NULL DEFAULT '', created_at TEXT NOT NULL, CHECK (kind IN ('regular','direct')), CHECK (access IN ('open','members','private')), CHECK (scope IN ('global','project','direct')));
CREATE INDEX IF NOT EXISTS idx_channels_scope_project ON channels(scope, project_id);
CREATE INDEX IF NOT EXISTS idx_channels_default ON channels(is_default) WHERE is_default = 1;
CREATE TABLE IF NOT EXISTS channel_members (channel_id TEXT NOT NULL REFERENCES channels(id), principal_name TEXT NOT NULL, principal_project_id TEXT NOT NULL DEFAULT '', inviter TEXT NOT NULL DEFAULT 'self', source TEXT NOT NULL DEFAULT 'manual', can_send INTEGER NOT NULL DEFAULT 1, can_invite INTEGER NOT NULL DEFAULT 0, can_leave INTEGER NOT NULL DEFAULT 1, can_manage INTEGER NOT NULL DEFAULT 0, from_default INTEGER NOT NULL DEFAULT 0, opted_out INTEGER NOT NULL DEFAULT 0, created_at TEXT NOT NULL, PRIMARY KEY (channel_id, principal_name, principal_project_id), CHECK (source IN ('manual','frontmatter','default','system','invitation')));
CREATE INDEX IF NOT EXISTS idx_members_principal ON channel_members(principal_name, principal_project_id);
CREATE TABLE IF NOT EXISTS messages (id INTEGER PRIMARY KEY AUTOINCREMENT, channel_id TEXT NOT NULL REFERENCES channels(id), sender_name TEXT NOT NULL, sender_project_id TEXT NOT NULL DEFAULT '', content TEXT NOT NULL, ts REAL NOT NULL, confidence REAL, metadata_json TEXT, tags_json TEXT, session_context TEXT NOT NULL DEFAULT '', thread_id TEXT NOT NULL DEFAULT '', created_at TEXT NOT NULL);
CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, ts, id);
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(content, content='messages', content_rowid='id');
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
  INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
  INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;
CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
  INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
  INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TABLE IF NOT EXISTS project_links (project_a TEXT NOT NULL, project_b TEXT NOT NULL, link_type TEXT NOT NULL, enabled INTEGER NOT NULL DEFAULT 1, created_at TEXT NOT NULL, PRIMARY KEY (project_a, project_b), CHECK (link_type IN ('bidirectional','a_to_b','b_to_a')));
`

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(schemaCoreSQL)
	return err
}

// columnMigration defines a column migration with check and apply queries.
type columnMigration struct {
	check  string
	apply  string
	column string
	table  string
}

// applyColumnMigration applies a single column migration if needed.
func (s *SQLiteStore) applyColumnMigration(m columnMigration) error {
	var exists int
	if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
		return nil // Column already exists
	}
	if _, err := s.db.Exec(m.apply); err != nil {
		return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
	}
	s.logger.Info("applied migration", "column", m.column, "table", m.table)
	return nil
}

// runMigrations applies schema migrations for existing databases. These are
// idempotent — safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	if err := s.migrateMessagesTimestampColumn(); err != nil {
		return fmt.Errorf("migrating messages.ts column: %w", err)
	}
	if err := s.migrateLegacySubscriptions(); err != nil {
		return fmt.Errorf("migrating legacy subscriptions: %w", err)
	}
	return nil
}

// migrateMessagesTimestampColumn rewrites any ISO-8601 text timestamps left
// over from an older layout into the real-valued Unix-seconds form the
// current schema expects.
func (s *SQLiteStore) migrateMessagesTimestampColumn() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE typeof(ts) = 'text'`).Scan(&count); err != nil {
		// messages table predates this column shape entirely; nothing to do.
		return nil
	}
	if count == 0 {
		return nil
	}
	s.logger.Info("migrating legacy text timestamps on messages", "count", count)
	_, err := s.db.Exec(`UPDATE messages SET ts = strftime('%s', ts) WHERE typeof(ts) = 'text'`)
	if err != nil {
		return fmt.Errorf("rewriting legacy timestamps: %w", err)
	}
	return nil
}

// migrateLegacySubscriptions folds rows from a legacy "subscriptions" table,
// if one exists from an older deployment, into channel_members with
// source='system' and then drops it. channel_members is the only table
// permitted to grant access; no separate subscriptions table may persist.
func (s *SQLiteStore) migrateLegacySubscriptions() error {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM sqlite_master WHERE type='table' AND name='subscriptions'`).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("migrating legacy subscriptions table into channel_members")
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO channel_members (channel_id, principal_name, principal_project_id, inviter, source, can_send, can_invite, can_leave, can_manage, from_default, opted_out, created_at)
		SELECT channel_id, principal_name, principal_project_id, 'system', 'system', 1, 0, 1, 0, 0, 0, COALESCE(created_at, datetime('now'))
		FROM subscriptions
	`)
	if err != nil {
		return fmt.Errorf("folding subscriptions rows: %w", err)
	}
	if _, err := s.db.Exec(`DROP TABLE subscriptions`); err != nil {
		return fmt.Errorf("dropping legacy subscriptions table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE or CHECK
// constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "CHECK constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner abstracts over *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// --- Projects ---------------------------------------------------------

func (s *SQLiteStore) RegisterProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, path, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path=excluded.path, name=excluded.name
	`, p.ID, p.Path, p.Name, p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("registering project: %w", err)
	}
	s.logger.Debug("registered project", "id", p.ID, "path", p.Path)
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, path, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Path, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, name, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Path, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- Principals ---------------------------------------------------------

func (s *SQLiteStore) RegisterPrincipal(ctx context.Context, p *Principal) error {
	allow, err := marshalJSON(p.DMAllow)
	if err != nil {
		return fmt.Errorf("marshaling dm_allow: %w", err)
	}
	block, err := marshalJSON(p.DMBlock)
	if err != nil {
		return fmt.Errorf("marshaling dm_block: %w", err)
	}
	if allow == "" {
		allow = "[]"
	}
	if block == "" {
		block = "[]"
	}
	// Unset policies take the column defaults rather than failing the CHECKs.
	discoverability, dmPolicy := p.Discoverability, p.DMPolicy
	if discoverability == "" {
		discoverability = DiscoverabilityPublic
	}
	if dmPolicy == "" {
		dmPolicy = DMPolicyOpen
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO principals (name, project_id, description, discoverability, dm_policy, dm_allow, dm_block, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, project_id) DO UPDATE SET
			description=excluded.description,
			discoverability=excluded.discoverability,
			dm_policy=excluded.dm_policy,
			dm_allow=excluded.dm_allow,
			dm_block=excluded.dm_block
	`, p.Name, ProjectKey(p.Project), p.Description, string(discoverability), string(dmPolicy), allow, block, p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("registering principal: %w", err)
	}
	s.logger.Debug("registered principal", "name", p.Name, "project", p.Project)
	return nil
}

func (s *SQLiteStore) scanPrincipal(row scanner) (*Principal, error) {
	var p Principal
	var createdAt, disc, policy, allow, block string
	err := row.Scan(&p.Name, &p.Project, &p.Description, &disc, &policy, &allow, &block, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning principal: %w", err)
	}
	p.Discoverability = Discoverability(disc)
	p.DMPolicy = DMPolicy(policy)
	if err := json.Unmarshal([]byte(allow), &p.DMAllow); err != nil {
		return nil, fmt.Errorf("unmarshaling dm_allow: %w", err)
	}
	if err := json.Unmarshal([]byte(block), &p.DMBlock); err != nil {
		return nil, fmt.Errorf("unmarshaling dm_block: %w", err)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

const principalColumns = `name, project_id, description, discoverability, dm_policy, dm_allow, dm_block, created_at`

func (s *SQLiteStore) GetPrincipal(ctx context.Context, key PrincipalKey) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+` FROM principals WHERE name = ? AND project_id = ?
	`, key.Name, ProjectKey(key.Project))
	return s.scanPrincipal(row)
}

// ListPrincipalsVisibleTo returns principals the viewer is allowed to
// discover: every principal in the viewer's own project, plus every
// public-discoverable principal anywhere, plus project-discoverable
// principals in projects linked to the viewer's project.
func (s *SQLiteStore) ListPrincipalsVisibleTo(ctx context.Context, viewer PrincipalKey) ([]*Principal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE discoverability = 'public'
		   OR project_id = ?
		   OR (discoverability = 'project' AND EXISTS (
			SELECT 1 FROM project_links pl
			WHERE pl.enabled = 1 AND (
				(pl.project_a = ? AND pl.project_b = principals.project_id AND pl.link_type IN ('bidirectional','a_to_b')) OR
				(pl.project_b = ? AND pl.project_a = principals.project_id AND pl.link_type IN ('bidirectional','b_to_a'))
			)
		   ))
		ORDER BY name
	`, ProjectKey(viewer.Project), ProjectKey(viewer.Project), ProjectKey(viewer.Project))
	if err != nil {
		return nil, fmt.Errorf("listing visible principals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Principal
	for rows.Next() {
		p, err := s.scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePrincipal(ctx context.Context, key PrincipalKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_members WHERE principal_name = ? AND principal_project_id = ?`, key.Name, ProjectKey(key.Project)); err != nil {
		return fmt.Errorf("cascading membership delete: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM principals WHERE name = ? AND project_id = ?`, key.Name, ProjectKey(key.Project))
	if err != nil {
		return fmt.Errorf("deleting principal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// --- Channels ---------------------------------------------------------

func (s *SQLiteStore) CreateChannel(ctx context.Context, c *Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, kind, access, scope, project_id, name, description, is_default, archived, notes_owner_name, notes_owner_project_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, string(c.Kind), string(c.Access), string(c.Scope), ProjectKey(c.Project), c.Name, c.Description,
		boolToInt(c.IsDefault), boolToInt(c.Archived), c.NotesOwnerName, ProjectKey(c.NotesOwnerProject),
		c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("creating channel: %w", err)
	}
	s.logger.Debug("created channel", "id", c.ID, "kind", c.Kind, "access", c.Access)
	return nil
}

const channelColumns = `id, kind, access, scope, project_id, name, description, is_default, archived, notes_owner_name, notes_owner_project_id, created_at`

func (s *SQLiteStore) scanChannel(row scanner) (*Channel, error) {
	var c Channel
	var isDefault, archived int
	var createdAt string
	var kind, access, scope string
	err := row.Scan(&c.ID, &kind, &access, &scope, &c.Project, &c.Name, &c.Description,
		&isDefault, &archived, &c.NotesOwnerName, &c.NotesOwnerProject, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	c.Kind = ChannelKind(kind)
	c.Access = ChannelAccess(access)
	c.Scope = ChannelScope(scope)
	c.IsDefault = isDefault != 0
	c.Archived = archived != 0
	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return s.scanChannel(row)
}

func (s *SQLiteStore) ListChannels(ctx context.Context, scope ChannelScope, project string) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE archived = 0`
	var args []any
	if scope != "" {
		query += " AND scope = ?"
		args = append(args, string(scope))
	}
	if project != "" || scope == ScopeProject {
		query += " AND project_id = ?"
		args = append(args, ProjectKey(project))
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Channel
	for rows.Next() {
		c, err := s.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ArchiveChannel(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE channels SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archiving channel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("archived channel", "id", id)
	return nil
}

// --- Memberships ---------------------------------------------------------

// countMembers returns the number of members of a channel (including
// opted-out rows, which still occupy a membership slot as a tombstone).
func (s *SQLiteStore) countMembers(ctx context.Context, channelID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_members WHERE channel_id = ?`, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, m *Membership) error {
	channel, err := s.GetChannel(ctx, m.ChannelID)
	if err != nil {
		return err
	}

	existing, err := s.GetMembership(ctx, m.ChannelID, m.PrincipalKey())
	isUpdate := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	_ = existing

	if !isUpdate {
		if channel.Kind == ChannelKindDirect {
			n, err := s.countMembers(ctx, m.ChannelID)
			if err != nil {
				return err
			}
			if n >= 2 {
				return ErrInvariant
			}
		}
		if channel.IsNotesChannel() {
			n, err := s.countMembers(ctx, m.ChannelID)
			if err != nil {
				return err
			}
			if n >= 1 {
				return ErrInvariant
			}
		}
	}

	source := m.Source
	if source == "" {
		source = SourceManual // the column default; an empty string fails its CHECK
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, principal_name, principal_project_id, inviter, source, can_send, can_invite, can_leave, can_manage, from_default, opted_out, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, principal_name, principal_project_id) DO UPDATE SET
			can_send=excluded.can_send, can_invite=excluded.can_invite, can_leave=excluded.can_leave,
			can_manage=excluded.can_manage, opted_out=excluded.opted_out
	`, m.ChannelID, m.PrincipalName, ProjectKey(m.PrincipalProject), m.Inviter, string(source),
		boolToInt(m.CanSend), boolToInt(m.CanInvite), boolToInt(m.CanLeave), boolToInt(m.CanManage),
		boolToInt(m.FromDefault), boolToInt(m.OptedOut), m.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("adding member: %w", err)
	}
	s.logger.Debug("added member", "channel", m.ChannelID, "principal", m.PrincipalName)
	return nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, channelID string, principal PrincipalKey) error {
	channel, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.Kind == ChannelKindDirect {
		return ErrInvariant
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM channel_members WHERE channel_id = ? AND principal_name = ? AND principal_project_id = ?
	`, channelID, principal.Name, ProjectKey(principal.Project))
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("removed member", "channel", channelID, "principal", principal.Name)
	return nil
}

const membershipColumns = `channel_id, principal_name, principal_project_id, inviter, source, can_send, can_invite, can_leave, can_manage, from_default, opted_out, created_at`

func (s *SQLiteStore) scanMembership(row scanner) (*Membership, error) {
	var m Membership
	var canSend, canInvite, canLeave, canManage, fromDefault, optedOut int
	var createdAt, source string
	err := row.Scan(&m.ChannelID, &m.PrincipalName, &m.PrincipalProject, &m.Inviter, &source,
		&canSend, &canInvite, &canLeave, &canManage, &fromDefault, &optedOut, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning membership: %w", err)
	}
	m.Source = MemberSource(source)
	m.CanSend = canSend != 0
	m.CanInvite = canInvite != 0
	m.CanLeave = canLeave != 0
	m.CanManage = canManage != 0
	m.FromDefault = fromDefault != 0
	m.OptedOut = optedOut != 0
	m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) GetMembership(ctx context.Context, channelID string, principal PrincipalKey) (*Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+` FROM channel_members
		WHERE channel_id = ? AND principal_name = ? AND principal_project_id = ?
	`, channelID, principal.Name, ProjectKey(principal.Project))
	return s.scanMembership(row)
}

func (s *SQLiteStore) ListMembers(ctx context.Context, channelID string) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+` FROM channel_members WHERE channel_id = ? ORDER BY created_at
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Membership
	for rows.Next() {
		m, err := s.scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListMemberships(ctx context.Context, principal PrincipalKey) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+` FROM channel_members
		WHERE principal_name = ? AND principal_project_id = ? ORDER BY created_at
	`, principal.Name, ProjectKey(principal.Project))
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Membership
	for rows.Next() {
		m, err := s.scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Messages ---------------------------------------------------------

// ErrNotAuthorized is returned when a write is attempted by a principal
// lacking the required capability (e.g. inserting a message without
// can-send). The relational store computes this directly from
// channel_members since it already holds the membership row needed to
// decide; internal/coreerr classifies it into coreerr.NotAuthorized at
// the facade boundary.
var ErrNotAuthorized = errors.New("not authorized")

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg NewMessage) (int64, error) {
	membership, err := s.GetMembership(ctx, msg.ChannelID, PrincipalKey{Name: msg.SenderName, Project: msg.SenderProject})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("%w: sender is not a member of channel", ErrNotAuthorized)
		}
		return 0, err
	}
	if !membership.CanSend || membership.OptedOut {
		return 0, fmt.Errorf("%w: sender lacks can-send capability", ErrNotAuthorized)
	}

	metadataJSON, err := marshalJSON(msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshaling metadata: %w", err)
	}
	tagsJSON, err := marshalJSON(msg.Tags)
	if err != nil {
		return 0, fmt.Errorf("marshaling tags: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (channel_id, sender_name, sender_project_id, content, ts, confidence, metadata_json, tags_json, session_context, thread_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ChannelID, msg.SenderName, ProjectKey(msg.SenderProject), msg.Content, msg.Timestamp, msg.Confidence,
		nullString(metadataJSON), nullString(tagsJSON), msg.SessionContext, msg.ThreadID,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting inserted id: %w", err)
	}
	return id, nil
}

const messageColumns = `id, channel_id, sender_name, sender_project_id, content, ts, confidence, metadata_json, tags_json, session_context, thread_id, created_at`

func (s *SQLiteStore) scanMessage(row scanner) (*Message, error) {
	var m Message
	var confidence sql.NullFloat64
	var metadataJSON, tagsJSON sql.NullString
	var createdAt string

	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderName, &m.SenderProject, &m.Content, &m.Timestamp,
		&confidence, &metadataJSON, &tagsJSON, &m.SessionContext, &m.ThreadID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
	}
	m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return s.scanMessage(row)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_id = ?`
	args := []any{filter.ChannelID}
	if filter.Since != nil {
		query += " AND ts >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += " AND ts <= ?"
		args = append(args, *filter.Until)
	}
	query += " ORDER BY ts, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchMessagesFTS performs a full-text search over a channel's messages
// using the FTS5 shadow table kept in sync by triggers.
func (s *SQLiteStore) SearchMessagesFTS(ctx context.Context, channelID, query string, limit int) ([]*Message, error) {
	sqlQuery := `
		SELECT m.id, m.channel_id, m.sender_name, m.sender_project_id, m.content, m.ts, m.confidence, m.metadata_json, m.tags_json, m.session_context, m.thread_id, m.created_at
		FROM messages m
		JOIN messages_fts f ON f.rowid = m.id
		WHERE messages_fts MATCH ? AND m.channel_id = ?
		ORDER BY rank
	`
	args := []any{query, channelID}
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Project links ---------------------------------------------------------

func (s *SQLiteStore) LinkProjects(ctx context.Context, link *ProjectLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_links (project_a, project_b, link_type, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_a, project_b) DO UPDATE SET link_type=excluded.link_type, enabled=excluded.enabled
	`, link.ProjectA, link.ProjectB, string(link.Type), boolToInt(link.Enabled), link.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("linking projects: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnlinkProjects(ctx context.Context, a, b string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_links WHERE project_a = ? AND project_b = ?`, a, b)
	if err != nil {
		return fmt.Errorf("unlinking projects: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetProjectLink(ctx context.Context, a, b string) (*ProjectLink, error) {
	var link ProjectLink
	var enabled int
	var createdAt, linkType string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_a, project_b, link_type, enabled, created_at FROM project_links
		WHERE project_a = ? AND project_b = ?
	`, a, b).Scan(&link.ProjectA, &link.ProjectB, &linkType, &enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project link: %w", err)
	}
	link.Type = LinkType(linkType)
	link.Enabled = enabled != 0
	link.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &link, nil
}

// --- Access views ---------------------------------------------------------

// ComputeAccessView is the single decision procedure for "what can this
// principal do on this channel", covering every case in the spec's
// five-rule ordering: an active membership row, a direct channel the
// principal isn't in, an open global channel, an open project channel
// reachable via shared project or an enabled link, and the private-channel
// default of no access. Client code must never join against
// channel_members or channels directly — this is the only sanctioned path.
func (s *SQLiteStore) ComputeAccessView(ctx context.Context, principal PrincipalKey, channelID string) (AccessView, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return AccessView{}, err
	}

	m, err := s.GetMembership(ctx, channelID, principal)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return AccessView{}, err
	}
	if err == nil && !m.OptedOut {
		return AccessView{
			HasAccess:     true,
			CanSend:       m.CanSend,
			CanInvite:     m.CanInvite,
			CanLeave:      m.CanLeave,
			CanManage:     m.CanManage,
			VisibleInList: !ch.Archived,
		}, nil
	}

	if ch.Kind == ChannelKindDirect {
		return AccessView{}, nil
	}

	if ch.Access == AccessOpen {
		switch {
		case ch.Scope == ScopeGlobal:
			return AccessView{HasAccess: true, VisibleInList: !ch.Archived}, nil
		case ch.Scope == ScopeProject:
			if principal.Project == GlobalProject || principal.Project == ch.Project {
				return AccessView{HasAccess: true, VisibleInList: !ch.Archived}, nil
			}
			linked, err := s.projectLinkPermits(ctx, principal.Project, ch.Project)
			if err != nil {
				return AccessView{}, err
			}
			if linked {
				return AccessView{HasAccess: true, VisibleInList: !ch.Archived}, nil
			}
		}
	}

	return AccessView{}, nil
}

// projectLinkPermits reports whether an enabled link between from and to
// permits from to discover to's open project channels, honoring link
// directionality.
func (s *SQLiteStore) projectLinkPermits(ctx context.Context, from, to string) (bool, error) {
	link, err := s.GetProjectLink(ctx, from, to)
	if errors.Is(err, ErrNotFound) {
		link, err = s.GetProjectLink(ctx, to, from) // the link may be stored as (to, from)
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !link.Enabled {
		return false, nil
	}
	switch link.Type {
	case LinkBidirectional:
		return true, nil
	case LinkAToB:
		return link.ProjectA == from && link.ProjectB == to, nil
	case LinkBToA:
		return link.ProjectB == from && link.ProjectA == to, nil
	default:
		return false, nil
	}
}

func principalID(k PrincipalKey) string {
	if k.Project == GlobalProject {
		return k.Name
	}
	return k.Name + "@" + k.Project
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ComputeDMAccessView decides whether a and b may exchange direct messages,
// honoring each side's dm_policy, discoverability, and explicit allow/block
// lists. Closed and restricted policies are checked symmetrically: either
// party can impose either condition on the exchange, not just the callee's
// "recipient" side, since callers check both (a, b) and (b, a) before
// opening a direct channel.
func (s *SQLiteStore) ComputeDMAccessView(ctx context.Context, a, b PrincipalKey) (bool, string, error) {
	pa, err := s.GetPrincipal(ctx, a)
	if err != nil {
		return false, "", err
	}
	pb, err := s.GetPrincipal(ctx, b)
	if err != nil {
		return false, "", err
	}

	aKey, bKey := principalID(a), principalID(b)

	if containsString(pa.DMBlock, bKey) || containsString(pb.DMBlock, aKey) {
		return false, "blocked", nil
	}
	if containsString(pa.DMAllow, bKey) || containsString(pb.DMAllow, aKey) {
		return true, "explicit allow", nil
	}
	if pb.DMPolicy == DMPolicyClosed {
		return false, "recipient dm_policy=closed", nil
	}
	if pa.DMPolicy == DMPolicyClosed {
		return false, "sender dm_policy=closed", nil
	}
	if pb.DMPolicy == DMPolicyRestricted {
		shared, err := s.sharesNonDirectMembership(ctx, a, b)
		if err != nil {
			return false, "", err
		}
		if !shared {
			return false, "recipient dm_policy=restricted and no shared channel", nil
		}
	}
	if pa.DMPolicy == DMPolicyRestricted {
		shared, err := s.sharesNonDirectMembership(ctx, a, b)
		if err != nil {
			return false, "", err
		}
		if !shared {
			return false, "sender dm_policy=restricted and no shared channel", nil
		}
	}
	if !s.discoverabilityGrantsVisibility(a, pb) {
		return false, "recipient discoverability denies visibility", nil
	}
	return true, "allowed", nil
}

// discoverabilityGrantsVisibility reports whether viewer may discover
// target per target's discoverability setting.
func (s *SQLiteStore) discoverabilityGrantsVisibility(viewer PrincipalKey, target *Principal) bool {
	switch target.Discoverability {
	case DiscoverabilityPublic:
		return true
	case DiscoverabilityProject:
		return viewer.Project == GlobalProject || viewer.Project == target.Project
	default: // DiscoverabilityPrivate, or unset
		return false
	}
}

// sharesNonDirectMembership reports whether a and b are both active,
// non-opted-out members of any regular (non-direct) channel.
func (s *SQLiteStore) sharesNonDirectMembership(ctx context.Context, a, b PrincipalKey) (bool, error) {
	aMemberships, err := s.ListMemberships(ctx, a)
	if err != nil {
		return false, fmt.Errorf("listing memberships for %s: %w", principalID(a), err)
	}
	bChannels := make(map[string]bool)
	bMemberships, err := s.ListMemberships(ctx, b)
	if err != nil {
		return false, fmt.Errorf("listing memberships for %s: %w", principalID(b), err)
	}
	for _, m := range bMemberships {
		if !m.OptedOut {
			bChannels[m.ChannelID] = true
		}
	}
	for _, m := range aMemberships {
		if m.OptedOut || !bChannels[m.ChannelID] {
			continue
		}
		ch, err := s.GetChannel(ctx, m.ChannelID)
		if err != nil {
			return false, fmt.Errorf("looking up channel %s: %w", m.ChannelID, err)
		}
		if ch.Kind != ChannelKindDirect {
			return true, nil
		}
	}
	return false, nil
}
