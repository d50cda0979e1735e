package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/paper-repository-api/pkg/response"
)

type indexRebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// SearchHandler exposes maintenance of the catalog index.
type SearchHandler struct {
	indexer indexRebuilder
}

// NewSearchHandler constructs the handler.
func NewSearchHandler(indexer indexRebuilder) *SearchHandler {
	return &SearchHandler{indexer: indexer}
}

// Reindex godoc
// @Summary Rebuild the full-text index
// @Tags Administration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/search/reindex [post]
func (h *SearchHandler) Reindex(c *gin.Context) {
	count, err := h.indexer.Rebuild(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"indexed": count}, nil)
}
