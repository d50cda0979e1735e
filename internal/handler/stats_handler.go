package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/paper-repository-api/internal/middleware"
	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/internal/service"
	"github.com/noah-isme/paper-repository-api/pkg/export"
	"github.com/noah-isme/paper-repository-api/pkg/response"
)

type statsService interface {
	AuthorStats(ctx context.Context) ([]models.AuthorStat, bool, error)
	ExportAuthorStats(ctx context.Context, format string, actor service.ActorMeta) (export.File, error)
}

// StatsHandler serves catalog statistics.
type StatsHandler struct {
	service statsService
}

// NewStatsHandler constructs the handler.
func NewStatsHandler(svc statsService) *StatsHandler {
	return &StatsHandler{service: svc}
}

// Authors godoc
// @Summary Author statistics
// @Description Paper count, votes and latest year per author name
// @Tags Statistics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stats/authors [get]
func (h *StatsHandler) Authors(c *gin.Context) {
	stats, hit, err := h.service.AuthorStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export author statistics
// @Tags Statistics
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /stats/authors/export [get]
func (h *StatsHandler) Export(c *gin.Context) {
	file, err := h.service.ExportAuthorStats(c.Request.Context(), c.DefaultQuery("format", "csv"), actorFromContext(c, claimsFromContext(c)))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
