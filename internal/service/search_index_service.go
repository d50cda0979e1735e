package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/pkg/jobs"
	"github.com/noah-isme/paper-repository-api/pkg/search"
)

type indexedPaperSource interface {
	GetByID(ctx context.Context, id string) (*models.Paper, error)
	All(ctx context.Context) ([]models.Paper, error)
}

type fullTextIndex interface {
	Index(doc search.Document) error
	Delete(id string) error
	Rebuild(docs []search.Document) error
	Search(ctx context.Context, text string) ([]string, error)
}

// SearchIndexService keeps the full-text index in step with the catalog.
type SearchIndexService struct {
	papers  indexedPaperSource
	index   fullTextIndex
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSearchIndexService constructs the indexer.
func NewSearchIndexService(papers indexedPaperSource, index fullTextIndex, metrics *MetricsService, logger *zap.Logger) *SearchIndexService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchIndexService{papers: papers, index: index, metrics: metrics, logger: logger}
}

// Handle is the jobs.Handler applied to index tasks.
func (s *SearchIndexService) Handle(ctx context.Context, task jobs.Task) error {
	err := s.handle(ctx, task)
	s.metrics.RecordIndexTask(task.Kind, err)
	return err
}

func (s *SearchIndexService) handle(ctx context.Context, task jobs.Task) error {
	switch task.Kind {
	case jobs.KindDelete:
		return s.index.Delete(task.Key)
	case jobs.KindIndex:
		paper, err := s.papers.GetByID(ctx, task.Key)
		if errors.Is(err, sql.ErrNoRows) {
			return s.index.Delete(task.Key)
		}
		if err != nil {
			return fmt.Errorf("load paper %s: %w", task.Key, err)
		}
		return s.index.Index(documentFor(paper))
	default:
		s.logger.Warn("unknown index task", zap.String("kind", task.Kind))
		return nil
	}
}

// Rebuild re-indexes the whole catalog and returns the number of documents.
func (s *SearchIndexService) Rebuild(ctx context.Context) (int, error) {
	papers, err := s.papers.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	docs := make([]search.Document, 0, len(papers))
	for i := range papers {
		docs = append(docs, documentFor(&papers[i]))
	}
	if err := s.index.Rebuild(docs); err != nil {
		return 0, err
	}
	s.logger.Info("search index rebuilt", zap.Int("documents", len(docs)))
	return len(docs), nil
}

// Search returns matching paper ids, best match first.
func (s *SearchIndexService) Search(ctx context.Context, text string) ([]string, error) {
	return s.index.Search(ctx, text)
}

func documentFor(p *models.Paper) search.Document {
	return search.Document{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Journal:     p.Journal,
		Authors:     p.Authors.Names(),
		Tags:        []string(p.Tags),
		SDGs:        []string(p.SDGs),
	}
}
