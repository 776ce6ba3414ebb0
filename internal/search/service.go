package search

import (
	"context"
	"log/slog"

	"taskflow/internal/store"
)

type index interface {
	Searcher
	IndexTask(task TaskRecord) error
	IndexTasks(tasks []TaskRecord) error
	DeleteTask(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    index
	fallback Searcher
	loader   func(ctx context.Context) ([]TaskRecord, error)
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(m *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger}
	if m != nil {
		s.meili = m
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Failures yield an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexing() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(task store.Task) {
	if !s.indexing() {
		return
	}
	record := RecordFromTask(task)
	go func() {
		if err := s.meili.IndexTask(record); err != nil {
			s.logger.Warn("index task failed", "task_id", record.ID, "error", err)
		}
	}()
}

// DeleteTask removes a task from the index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			s.logger.Warn("delete task from index failed", "task_id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every task in PostgreSQL to Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexing() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexTasks(records); err != nil {
		s.logger.Error("reindex tasks failed", "count", len(records), "error", err)
		return
	}
	s.logger.Info("reindexed tasks", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
