// ABOUTME: Composition-root API surface: validate/normalize, delegate to store+membership, emit, respond
// ABOUTME: Centralizes event emission after every mutating call so it can never be forgotten per-call

package facade

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/claude-slack/internal/coreerr"
	"github.com/2389/claude-slack/internal/eventbus"
	"github.com/2389/claude-slack/internal/hybridstore"
	"github.com/2389/claude-slack/internal/ids"
	"github.com/2389/claude-slack/internal/membership"
	"github.com/2389/claude-slack/internal/store"
)

const (
	TopicMembership = "membership"
	TopicChannel    = "channel"
	TopicMessage    = "message"
	TopicProject    = "project"
)

// Facade is the single entry point external callers (CLIs, servers,
// adapters) use to drive the core. Every mutating method emits a bus
// event after its delegated call succeeds; every read method applies
// membership's access view before returning anything to the caller.
type Facade struct {
	store  store.Store
	hybrid *hybridstore.Store
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New wires a Facade over the given store, hybrid message store, and event
// bus. All three are required — the facade has no fallback path for a nil
// collaborator (unlike hybridstore's own optional vector store).
func New(s store.Store, h *hybridstore.Store, b *eventbus.Bus, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{store: s, hybrid: h, bus: b, logger: logger.With("component", "facade")}
}

func (f *Facade) emit(topic, subtype string, payload any) {
	f.bus.Publish(topic, subtype, payload)
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return coreerr.WrapContext(err)
	}
	return nil
}

// RegisterProject registers a new project tenant boundary.
func (f *Facade) RegisterProject(ctx context.Context, id, path, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if id == "" || path == "" {
		return coreerr.New(coreerr.BadRequest, "project id and path are required")
	}
	p := &store.Project{ID: id, Path: path, Name: name, CreatedAt: time.Now()}
	if err := f.store.RegisterProject(ctx, p); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "registering project %s", id)
	}
	f.emit(TopicProject, "registered", p)
	return nil
}

// RegisterPrincipal registers a new addressable actor.
func (f *Facade) RegisterPrincipal(ctx context.Context, p *store.Principal) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if p == nil || p.Name == "" {
		return coreerr.New(coreerr.BadRequest, "principal name is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if err := f.store.RegisterPrincipal(ctx, p); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "registering principal %s", p.Name)
	}
	f.emit(TopicMembership, "principal-registered", p)

	if err := membership.DefaultProvision(ctx, f.store, p.Key(), nil, false, f.logger); err != nil {
		f.logger.Warn("default provisioning failed", "principal", p.Name, "error", err)
	}
	return nil
}

// CreateChannel creates a new channel. Scope, project and name determine
// the generated id (see internal/ids).
func (f *Facade) CreateChannel(ctx context.Context, c *store.Channel) (string, error) {
	if err := checkCtx(ctx); err != nil {
		return "", err
	}
	if c == nil || c.Name == "" {
		return "", coreerr.New(coreerr.BadRequest, "channel name is required")
	}
	if c.ID == "" {
		c.ID = ids.ChannelID(scopeToIDScope(c.Scope), c.Project, c.Name)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if err := f.store.CreateChannel(ctx, c); err != nil {
		return "", coreerr.Wrap(coreerr.Of(err), err, "creating channel %s", c.ID)
	}
	f.emit(TopicChannel, "created", c)
	return c.ID, nil
}

// Join adds principal p as a member of channelID, subject to
// membership.MayJoin's decision.
func (f *Facade) Join(ctx context.Context, p store.PrincipalKey, channelID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	ok, err := membership.MayJoin(ctx, f.store, p, channelID)
	if err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "checking join eligibility for %s on %s", p.Name, channelID)
	}
	if !ok {
		return coreerr.New(coreerr.NotAuthorized, "%s may not join %s", p.Name, channelID)
	}
	m := &store.Membership{ChannelID: channelID, PrincipalName: p.Name, PrincipalProject: p.Project, Inviter: "self", Source: store.SourceManual, CanSend: true, CanLeave: true, CreatedAt: time.Now()}
	if err := f.store.AddMember(ctx, m); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "adding member %s to %s", p.Name, channelID)
	}
	f.emit(TopicMembership, "joined", m)
	return nil
}

// Invite adds invitee as a member of channelID on inviter's behalf,
// subject to membership.MayInvite's decision.
func (f *Facade) Invite(ctx context.Context, inviter store.PrincipalKey, channelID string, invitee store.PrincipalKey) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	ok, err := membership.MayInvite(ctx, f.store, inviter, channelID, invitee)
	if err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "checking invite eligibility")
	}
	if !ok {
		return coreerr.New(coreerr.NotAuthorized, "%s may not invite into %s", inviter.Name, channelID)
	}
	m := &store.Membership{ChannelID: channelID, PrincipalName: invitee.Name, PrincipalProject: invitee.Project, Inviter: inviter.Name, Source: store.SourceInvitation, CanSend: true, CanLeave: true, CreatedAt: time.Now()}
	if err := f.store.AddMember(ctx, m); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "adding invited member %s to %s", invitee.Name, channelID)
	}
	f.emit(TopicMembership, "invited", m)
	return nil
}

// Leave removes p from channelID, subject to membership.MayLeave's decision.
func (f *Facade) Leave(ctx context.Context, p store.PrincipalKey, channelID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	ok, err := membership.MayLeave(ctx, f.store, p, channelID)
	if err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "checking leave eligibility for %s on %s", p.Name, channelID)
	}
	if !ok {
		return coreerr.New(coreerr.NotAuthorized, "%s may not leave %s", p.Name, channelID)
	}
	if err := f.store.RemoveMember(ctx, channelID, p); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "removing member %s from %s", p.Name, channelID)
	}
	f.emit(TopicMembership, "left", map[string]string{"channel_id": channelID, "principal": p.Name})
	return nil
}

// OptOut marks p as opted out of default-provisioned channel channelID
// without leaving it outright (it stays listed but silent).
func (f *Facade) OptOut(ctx context.Context, p store.PrincipalKey, channelID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	m, err := f.store.GetMembership(ctx, channelID, p)
	if err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "getting membership for opt-out")
	}
	m.OptedOut = true
	if err := f.store.AddMember(ctx, m); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "recording opt-out for %s on %s", p.Name, channelID)
	}
	f.emit(TopicMembership, "opted-out", map[string]string{"channel_id": channelID, "principal": p.Name})
	return nil
}

// Send writes a message to a channel via the hybrid store (relational +
// best-effort vector index) then emits it on the bus.
func (f *Facade) Send(ctx context.Context, msg store.NewMessage) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	if msg.Content == "" {
		return 0, coreerr.New(coreerr.BadRequest, "message content is required")
	}
	ok, err := membership.MaySend(ctx, f.store, store.PrincipalKey{Name: msg.SenderName, Project: msg.SenderProject}, msg.ChannelID)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Of(err), err, "checking send eligibility")
	}
	if !ok {
		return 0, coreerr.New(coreerr.NotAuthorized, "%s may not send to %s", msg.SenderName, msg.ChannelID)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = float64(time.Now().Unix())
	}
	id, err := f.hybrid.Insert(ctx, msg)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Of(err), err, "sending message to %s", msg.ChannelID)
	}
	f.emit(TopicMessage, "sent", map[string]any{"id": id, "channel_id": msg.ChannelID, "sender": msg.SenderName})
	return id, nil
}

// Archive marks a channel archived.
func (f *Facade) Archive(ctx context.Context, channelID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := f.store.ArchiveChannel(ctx, channelID); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "archiving channel %s", channelID)
	}
	f.emit(TopicChannel, "archived", map[string]string{"channel_id": channelID})
	return nil
}

// LinkProjects authorizes cross-project discovery/self-join between a and b.
func (f *Facade) LinkProjects(ctx context.Context, a, b string, linkType store.LinkType) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	link := &store.ProjectLink{ProjectA: a, ProjectB: b, Type: linkType, Enabled: true, CreatedAt: time.Now()}
	if err := f.store.LinkProjects(ctx, link); err != nil {
		return coreerr.Wrap(coreerr.Of(err), err, "linking projects %s and %s", a, b)
	}
	f.emit(TopicProject, "linked", link)
	return nil
}

// ListChannelsFor lists channels in scope/project visible to p, filtered
// through membership's access view (VisibleInList).
func (f *Facade) ListChannelsFor(ctx context.Context, p store.PrincipalKey, scope store.ChannelScope, project string) ([]*store.Channel, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	channels, err := f.store.ListChannels(ctx, scope, project)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Of(err), err, "listing channels")
	}
	visible := make([]*store.Channel, 0, len(channels))
	for _, c := range channels {
		view, err := f.store.ComputeAccessView(ctx, p, c.ID)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Of(err), err, "computing access view for %s", c.ID)
		}
		if view.VisibleInList {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// SearchMessages runs a hybrid search, first verifying the caller has
// access to the channel being searched.
func (f *Facade) SearchMessages(ctx context.Context, p store.PrincipalKey, q hybridstore.SearchQuery) ([]hybridstore.RankedMessage, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	view, err := f.store.ComputeAccessView(ctx, p, q.ChannelID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Of(err), err, "computing access view for %s", q.ChannelID)
	}
	if !view.HasAccess {
		return nil, coreerr.New(coreerr.NotAuthorized, "%s may not read %s", p.Name, q.ChannelID)
	}
	results, err := f.hybrid.Search(ctx, q)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Of(err), err, "searching messages in %s", q.ChannelID)
	}
	return results, nil
}

// GetHistory returns the full message window for a channel p can read.
func (f *Facade) GetHistory(ctx context.Context, p store.PrincipalKey, channelID string, since, until *float64, limit int) ([]*store.Message, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	view, err := f.store.ComputeAccessView(ctx, p, channelID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Of(err), err, "computing access view for %s", channelID)
	}
	if !view.HasAccess {
		return nil, coreerr.New(coreerr.NotAuthorized, "%s may not read %s", p.Name, channelID)
	}
	msgs, err := f.store.ListMessages(ctx, store.MessageFilter{ChannelID: channelID, Since: since, Until: until, Limit: limit})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Of(err), err, "listing history for %s", channelID)
	}
	return msgs, nil
}

func scopeToIDScope(s store.ChannelScope) ids.Scope {
	switch s {
	case store.ScopeProject:
		return ids.Project
	case store.ScopeDirect:
		return ids.Direct
	default:
		return ids.Global
	}
}
