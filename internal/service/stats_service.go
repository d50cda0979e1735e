package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/export"
)

const authorStatsCacheKey = "stats:authors"

type authorStatsSource interface {
	AuthorStats(ctx context.Context) ([]models.AuthorStat, error)
}

// StatsService aggregates catalog statistics per author.
type StatsService struct {
	repo   authorStatsSource
	cache  *CacheService
	audit  auditLogger
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewStatsService constructs the statistics service.
func NewStatsService(repo authorStatsSource, cache *CacheService, audit auditLogger, ttl time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{repo: repo, cache: cache, audit: audit, ttl: ttl, logger: logger, now: time.Now}
}

// AuthorStats returns per-author figures, served from cache when fresh.
// The second return value reports a cache hit.
func (s *StatsService) AuthorStats(ctx context.Context) ([]models.AuthorStat, bool, error) {
	var cached []models.AuthorStat
	if s.cache.Get(ctx, authorStatsCacheKey, &cached) {
		return cached, true, nil
	}

	stats, err := s.repo.AuthorStats(ctx)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to aggregate author statistics")
	}
	if stats == nil {
		stats = []models.AuthorStat{}
	}
	s.cache.Set(ctx, authorStatsCacheKey, stats, s.ttl)
	return stats, false, nil
}

// Invalidate drops the cached statistics after catalog changes.
func (s *StatsService) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, authorStatsCacheKey)
}

// ExportAuthorStats renders the statistics as CSV or PDF.
func (s *StatsService) ExportAuthorStats(ctx context.Context, format string, actor ActorMeta) (export.File, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "" && format != export.FormatCSV && format != export.FormatPDF {
		return export.File{}, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	stats, _, err := s.AuthorStats(ctx)
	if err != nil {
		return export.File{}, err
	}

	dataset := export.Dataset{Headers: []string{"Author", "Papers", "Likes", "Dislikes", "Latest Year"}}
	for _, stat := range stats {
		latest := ""
		if stat.LatestYear != nil {
			latest = strconv.Itoa(*stat.LatestYear)
		}
		dataset.Rows = append(dataset.Rows, []string{
			stat.Author,
			strconv.Itoa(stat.Papers),
			strconv.Itoa(stat.Likes),
			strconv.Itoa(stat.Dislikes),
			latest,
		})
	}

	file, err := export.Render(format, "author_statistics_"+s.now().UTC().Format("20060102"), dataset)
	if err != nil {
		return export.File{}, appErrors.Internal(err, "failed to render export")
	}

	if s.audit != nil {
		payload, _ := json.Marshal(map[string]interface{}{"format": format, "rows": len(dataset.Rows)})
		entry := &models.AuditLog{
			Action:    models.AuditActionStatsExport,
			Resource:  "stats",
			NewValues: payload,
			IPAddress: actor.IP,
			UserAgent: actor.UserAgent,
		}
		if actor.ID != "" {
			entry.UserID = &actor.ID
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to record export audit log", zap.Error(err))
		}
	}
	return file, nil
}
