// ABOUTME: Composes the relational store and the optional vector store into a single write/search API
// ABOUTME: Write path is record-first-then-act; read path degrades gracefully when no vector store is wired

package hybridstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/claude-slack/internal/filter"
	"github.com/2389/claude-slack/internal/store"
	"github.com/2389/claude-slack/internal/vectorstore"
)

// RankedMessage pairs a full message record with its computed search score
// and the raw similarity that contributed to it.
type RankedMessage struct {
	Message    *store.Message
	Score      float64
	Similarity float64
}

// SearchQuery describes a hybrid search request. Text triggers semantic
// search when a vector store is configured; Filter is a validated operator
// tree (see internal/filter). Since/Until accept any of the temporal forms
// normalizeTimestamp understands.
type SearchQuery struct {
	ChannelID     string
	Text          string
	Filter        filter.Node
	Profile       string // defaults to "balanced"
	Since         any
	Until         any
	Limit         int
	SkipSemantic  bool // caller opt-out of vector search even if configured
}

// Store composes the relational store (authoritative) and the vector store
// (best-effort, optional) into one read/write surface.
type Store struct {
	rel                 store.Store
	vec                 vectorstore.Store
	embed               vectorstore.Embedder
	logger              *slog.Logger
	AutoRegisterSenders bool
}

// New wires rel (required), vec and embed (both nilable — nil disables
// semantic search and indexing entirely).
func New(rel store.Store, vec vectorstore.Store, embed vectorstore.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{rel: rel, vec: vec, embed: embed, logger: logger.With("component", "hybridstore")}
	if vec != nil {
		if err := vec.EnsureIndexes(context.Background()); err != nil {
			s.logger.Error("failed to ensure vector indexes", "error", err)
		}
	}
	return s
}

// Insert records msg in the relational store (authoritative) and, if a
// vector store is configured, best-effort indexes it for semantic search.
// A vector indexing failure is logged and swallowed — it never fails the
// write, since the relational record is already durable.
func (s *Store) Insert(ctx context.Context, msg store.NewMessage) (int64, error) {
	if s.AutoRegisterSenders {
		if err := s.ensureSenderRegistered(ctx, msg); err != nil {
			return 0, fmt.Errorf("auto-registering sender: %w", err)
		}
	}

	id, err := s.rel.InsertMessage(ctx, msg)
	if err != nil {
		return 0, err
	}

	if s.vec != nil && s.embed != nil && msg.Content != "" {
		embedding, err := s.embed(ctx, msg.Content)
		if err != nil {
			s.logger.Warn("embedding failed, message indexed text-only", "message_id", id, "error", err)
		} else if err := s.vec.Index(ctx, id, embedding, msg.Metadata); err != nil {
			s.logger.Warn("vector index failed, message remains text-searchable only", "message_id", id, "error", err)
		}
	}

	return id, nil
}

func (s *Store) ensureSenderRegistered(ctx context.Context, msg store.NewMessage) error {
	key := store.PrincipalKey{Name: msg.SenderName, Project: msg.SenderProject}
	_, err := s.rel.GetPrincipal(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	p := &store.Principal{
		Name:            key.Name,
		Project:         key.Project,
		Discoverability: store.DiscoverabilityPublic,
		DMPolicy:        store.DMPolicyOpen,
		CreatedAt:       time.Now(),
	}
	if err := s.rel.RegisterPrincipal(ctx, p); err != nil {
		return err
	}
	s.logger.Debug("auto-registered sender", "principal", key.Name, "project", key.Project)
	return nil
}

// Search implements the six-step hybrid read path from message store design:
// semantic search when text + a vector store are available, full-text
// fallback otherwise, residual filtering, ranking, and truncation to limit.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]RankedMessage, error) {
	profile, ok := Profiles[q.Profile]
	if !ok {
		profile = ProfileBalanced
	}

	since, until, err := s.normalizeWindow(q)
	if err != nil {
		return nil, err
	}

	// The native part only narrows the vector search; the full-text path
	// applies none of it, so the whole tree is evaluated on every fetched row.
	var native vectorstore.NativeFilter
	residual := q.Filter
	if q.Filter != nil {
		native, _ = filter.CompileNative(q.Filter)
	}

	var hits []candidate
	if q.Text != "" && s.vec != nil && s.embed != nil && !q.SkipSemantic {
		hits, err = s.semanticCandidates(ctx, q, native)
	} else {
		hits, err = s.textCandidates(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ranked := make([]RankedMessage, 0, len(hits))
	for _, h := range hits {
		msg, err := s.rel.GetMessage(ctx, h.id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // vector index stale relative to relational store
			}
			return nil, err
		}
		if q.ChannelID != "" && msg.ChannelID != q.ChannelID {
			continue // vector hits span every channel
		}
		if since != nil && msg.Timestamp < *since {
			continue
		}
		if until != nil && msg.Timestamp > *until {
			continue
		}
		if residual != nil {
			ok, err := filter.Eval(residual, msg.Metadata)
			if err != nil {
				return nil, fmt.Errorf("evaluating residual filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		ranked = append(ranked, RankedMessage{
			Message:    msg,
			Score:      Score(h.similarity, msg.Confidence, msg.Timestamp, now, profile),
			Similarity: h.similarity,
		})
	}

	sortByScoreDesc(ranked)

	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	return ranked, nil
}

type candidate struct {
	id         int64
	similarity float64
}

func (s *Store) semanticCandidates(ctx context.Context, q SearchQuery, native vectorstore.NativeFilter) ([]candidate, error) {
	embedding, err := s.embed(ctx, q.Text)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to text search", "error", err)
		return s.textCandidates(ctx, q)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	hits, err := s.vec.Search(ctx, embedding, native, limit*4) // over-fetch: post-filters and the window may drop some
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]candidate, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < minSemanticSimilarity {
			continue
		}
		out = append(out, candidate{id: h.ID, similarity: h.Similarity})
	}
	return out, nil
}

func (s *Store) textCandidates(ctx context.Context, q SearchQuery) ([]candidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if q.Text == "" {
		msgs, err := s.rel.ListMessages(ctx, store.MessageFilter{ChannelID: q.ChannelID, Limit: limit * 4})
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		out := make([]candidate, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, candidate{id: m.ID, similarity: 1.0})
		}
		return out, nil
	}

	msgs, err := s.rel.SearchMessagesFTS(ctx, q.ChannelID, q.Text, limit*4)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	out := make([]candidate, 0, len(msgs))
	n := len(msgs)
	for i, m := range msgs {
		// FTS results arrive best-match first; assign a similarity proxy
		// normalized to [0,1] by rank position, since SQLite's bm25 rank
		// isn't itself bounded to that range.
		proxy := 1.0
		if n > 1 {
			proxy = 1.0 - float64(i)/float64(n)
		}
		out = append(out, candidate{id: m.ID, similarity: proxy})
	}
	return out, nil
}

func (s *Store) normalizeWindow(q SearchQuery) (since, until *float64, err error) {
	if q.Since != nil {
		v, err := normalizeTimestamp(q.Since)
		if err != nil {
			return nil, nil, err
		}
		since = &v
	}
	if q.Until != nil {
		v, err := normalizeTimestamp(q.Until)
		if err != nil {
			return nil, nil, err
		}
		until = &v
	}
	return since, until, nil
}

func sortByScoreDesc(ranked []RankedMessage) {
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && ranked[j].Score > ranked[j-1].Score {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			j--
		}
	}
}
