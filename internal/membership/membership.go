// ABOUTME: Pure decision procedures over the relational store's access views
// ABOUTME: No storage of its own; every function reads store.Store and returns a bool or mutates membership rows

package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/claude-slack/internal/coreerr"
	"github.com/2389/claude-slack/internal/ids"
	"github.com/2389/claude-slack/internal/store"
)

// MayJoin reports whether principal may self-join channel: the access view
// must mark it has-access (open-global, or open-project reachable via a
// shared project or an enabled link) but not yet an active member.
func MayJoin(ctx context.Context, db store.Store, p store.PrincipalKey, channelID string) (bool, error) {
	view, err := db.ComputeAccessView(ctx, p, channelID)
	if err != nil {
		return false, wrapNotFound(err, "channel")
	}
	if m, err := db.GetMembership(ctx, channelID, p); err == nil && !m.OptedOut {
		return false, nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	return view.HasAccess, nil
}

// MayInvite reports whether inviter may add invitee to channel: inviter must
// be a current, non-opted-out member with can-invite. Cross-project invites
// are always permitted once that holds — isolation is the default, but
// explicit sharing (an invite) is always allowed.
func MayInvite(ctx context.Context, db store.Store, inviter store.PrincipalKey, channelID string, invitee store.PrincipalKey) (bool, error) {
	view, err := db.ComputeAccessView(ctx, inviter, channelID)
	if err != nil {
		return false, err
	}
	return view.HasAccess && view.CanInvite, nil
}

// MayLeave reports whether principal may remove itself from channel. Direct
// and notes channels never allow leaving, matching their fixed-membership
// invariant.
func MayLeave(ctx context.Context, db store.Store, p store.PrincipalKey, channelID string) (bool, error) {
	ch, err := db.GetChannel(ctx, channelID)
	if err != nil {
		return false, wrapNotFound(err, "channel")
	}
	if ch.Kind == store.ChannelKindDirect || ch.IsNotesChannel() {
		return false, nil
	}
	m, err := db.GetMembership(ctx, channelID, p)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.CanLeave, nil
}

// MaySend reports whether principal currently holds send capability on
// channel.
func MaySend(ctx context.Context, db store.Store, p store.PrincipalKey, channelID string) (bool, error) {
	view, err := db.ComputeAccessView(ctx, p, channelID)
	if err != nil {
		return false, err
	}
	return view.HasAccess && view.CanSend, nil
}

// MayDM reports whether a and b may exchange direct messages, per each
// side's dm_policy and explicit allow/block lists.
func MayDM(ctx context.Context, db store.Store, a, b store.PrincipalKey) (bool, string, error) {
	return db.ComputeDMAccessView(ctx, a, b)
}

// DefaultProvision adds p to every is-default channel in its scope, except
// channels named in exclude or if neverDefault is set. Membership rows are
// created with source=default, from-default=true, can-leave=true. A channel
// p is already a (possibly opted-out) member of is left untouched.
func DefaultProvision(ctx context.Context, db store.Store, p store.PrincipalKey, exclude map[string]bool, neverDefault bool, logger *slog.Logger) error {
	if neverDefault {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "membership")

	scope := store.ScopeGlobal
	if p.Project != store.GlobalProject {
		scope = store.ScopeProject
	}

	channels, err := db.ListChannels(ctx, scope, p.Project)
	if err != nil {
		return fmt.Errorf("listing default-provision candidates: %w", err)
	}

	for _, ch := range channels {
		if !ch.IsDefault || ch.Archived {
			continue
		}
		if exclude[ch.ID] {
			continue
		}
		if _, err := db.GetMembership(ctx, ch.ID, p); err == nil {
			continue // already a member (active or opted-out)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		m := &store.Membership{
			ChannelID:        ch.ID,
			PrincipalName:    p.Name,
			PrincipalProject: p.Project,
			Inviter:          "system",
			Source:           store.SourceDefault,
			CanSend:          true,
			CanInvite:        false,
			CanLeave:         true,
			CanManage:        false,
			FromDefault:      true,
			CreatedAt:        time.Now(),
		}
		if err := db.AddMember(ctx, m); err != nil {
			return fmt.Errorf("default-provisioning %s into %s: %w", p.Name, ch.ID, err)
		}
		logger.Debug("default-provisioned member", "principal", p.Name, "channel", ch.ID)
	}
	return nil
}

// ProvisionNotesChannel creates p's private single-member notes channel if
// it doesn't already exist, returning its id either way.
func ProvisionNotesChannel(ctx context.Context, db store.Store, p store.PrincipalKey) (string, error) {
	scope := store.ScopeGlobal
	if p.Project != store.GlobalProject {
		scope = store.ScopeProject
	}
	id := ids.NotesChannelID(scope, p.Project, p.Name)

	if _, err := db.GetChannel(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	ch := &store.Channel{
		ID:                id,
		Kind:               store.ChannelKindRegular,
		Access:             store.AccessPrivate,
		Scope:              scope,
		Project:            p.Project,
		Name:               "agent-notes:" + p.Name,
		NotesOwnerName:     p.Name,
		NotesOwnerProject:  p.Project,
		CreatedAt:          time.Now(),
	}
	if err := db.CreateChannel(ctx, ch); err != nil {
		return "", fmt.Errorf("creating notes channel: %w", err)
	}

	m := &store.Membership{
		ChannelID:        id,
		PrincipalName:    p.Name,
		PrincipalProject: p.Project,
		Inviter:          "self",
		Source:           store.SourceSystem,
		CanSend:          true,
		CanInvite:        false,
		CanLeave:         false,
		CanManage:        true,
		CreatedAt:        time.Now(),
	}
	if err := db.AddMember(ctx, m); err != nil {
		return "", fmt.Errorf("adding notes channel owner: %w", err)
	}
	return id, nil
}

func wrapNotFound(err error, entity string) error {
	if errors.Is(err, store.ErrNotFound) {
		return coreerr.Wrap(coreerr.NotFound, err, "%s not found", entity).WithEntity(entity)
	}
	return err
}
