package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/internal/service"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/response"
)

type paperService interface {
	Upload(ctx context.Context, input models.PaperInput, file models.FileUpload, claims *models.JWTClaims) (*models.Paper, error)
	Get(ctx context.Context, id string) (*models.Paper, error)
	Update(ctx context.Context, id string, input models.PaperInput, claims *models.JWTClaims) (*models.Paper, error)
	ReplaceFile(ctx context.Context, id string, file models.FileUpload, claims *models.JWTClaims) (*models.Paper, error)
	Delete(ctx context.Context, id string, claims *models.JWTClaims, actor service.ActorMeta) error
	List(ctx context.Context, filter models.PaperFilter) ([]models.Paper, *models.Pagination, error)
	ListForUser(ctx context.Context, userID string, filter models.PaperFilter) ([]models.Paper, *models.Pagination, error)
	Vote(ctx context.Context, paperID string, vote int, claims *models.JWTClaims) (*models.VoteResult, error)
	MyVote(ctx context.Context, paperID, userID string) (int, error)
	Comments(ctx context.Context, paperID string) ([]*models.Comment, error)
	AddComment(ctx context.Context, paperID string, req models.CreateCommentRequest, claims *models.JWTClaims) (*models.Comment, error)
	DeleteComment(ctx context.Context, paperID, commentID string, claims *models.JWTClaims) error
	DownloadPermission(ctx context.Context, paperID, userID string, claims *models.JWTClaims) (*models.DownloadPermission, error)
	Download(ctx context.Context, paperID, token string, claims *models.JWTClaims) (*models.Paper, io.ReadCloser, error)
}

// PaperHandler exposes the paper catalog.
type PaperHandler struct {
	service        paperService
	maxUploadBytes int64
}

// NewPaperHandler constructs the handler. Uploads larger than maxUploadBytes are rejected before reaching the service.
func NewPaperHandler(svc paperService, maxUploadBytes int64) *PaperHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 << 20
	}
	return &PaperHandler{service: svc, maxUploadBytes: maxUploadBytes}
}

// Upload godoc
// @Summary Upload a paper
// @Description Multipart upload of a PDF with its metadata. Metadata is taken from the "metadata" JSON field or from individual form fields.
// @Tags Papers
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF file"
// @Param metadata formData string false "PaperInput as JSON"
// @Param title formData string false "Title"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /papers [post]
func (h *PaperHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	input, err := paperInputFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	paper, err := h.service.Upload(c.Request.Context(), input, file, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, paper)
}

// Get godoc
// @Summary Get paper metadata
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /papers/{id} [get]
func (h *PaperHandler) Get(c *gin.Context) {
	paper, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var meta map[string]interface{}
	if claims := claimsFromContext(c); claims != nil {
		if vote, err := h.service.MyVote(c.Request.Context(), paper.ID, claims.UserID); err == nil {
			meta = map[string]interface{}{"my_vote": vote}
		}
	}
	response.JSON(c, http.StatusOK, paper, nil, meta)
}

// Update godoc
// @Summary Update paper metadata
// @Tags Papers
// @Accept json
// @Produce json
// @Param id path string true "Paper ID"
// @Param payload body models.PaperInput true "Metadata"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /papers/{id} [put]
func (h *PaperHandler) Update(c *gin.Context) {
	var input models.PaperInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, invalidPayload(err, "invalid paper payload"))
		return
	}

	paper, err := h.service.Update(c.Request.Context(), c.Param("id"), input, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, paper, nil)
}

// ReplaceFile godoc
// @Summary Replace the paper binary
// @Tags Papers
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Paper ID"
// @Param file formData file true "PDF file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /papers/{id}/file [put]
func (h *PaperHandler) ReplaceFile(c *gin.Context) {
	file, err := h.readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	paper, err := h.service.ReplaceFile(c.Request.Context(), c.Param("id"), file, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, paper, nil)
}

// Delete godoc
// @Summary Delete a paper
// @Tags Papers
// @Param id path string true "Paper ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /papers/{id} [delete]
func (h *PaperHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims, actorFromContext(c, claims)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// List godoc
// @Summary Browse the catalog
// @Tags Papers
// @Produce json
// @Param q query string false "Full-text query"
// @Param tag query string false "Tag"
// @Param sdg query string false "Sustainable development goal"
// @Param author query string false "Author name"
// @Param journal query string false "Journal"
// @Param year query int false "Publication year"
// @Param ownerId query string false "Owner ID"
// @Param sort query string false "newest|oldest|title|year|likes"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /papers [get]
func (h *PaperHandler) List(c *gin.Context) {
	filter, err := paperFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	papers, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, papers, pagination)
}

// ListForUser godoc
// @Summary Papers owned or co-authored by a user
// @Tags Papers
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/papers [get]
func (h *PaperHandler) ListForUser(c *gin.Context) {
	filter, err := paperFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	papers, pagination, err := h.service.ListForUser(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, papers, pagination)
}

// Like godoc
// @Summary Like a paper
// @Description Liking again clears the vote
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Router /papers/{id}/like [post]
func (h *PaperHandler) Like(c *gin.Context) {
	h.vote(c, models.VoteLike)
}

// Dislike godoc
// @Summary Dislike a paper
// @Description Disliking again clears the vote
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Router /papers/{id}/dislike [post]
func (h *PaperHandler) Dislike(c *gin.Context) {
	h.vote(c, models.VoteDislike)
}

func (h *PaperHandler) vote(c *gin.Context, vote int) {
	result, err := h.service.Vote(c.Request.Context(), c.Param("id"), vote, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Comments godoc
// @Summary List comments
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Router /papers/{id}/comments [get]
func (h *PaperHandler) Comments(c *gin.Context) {
	comments, err := h.service.Comments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// AddComment godoc
// @Summary Comment on a paper
// @Tags Papers
// @Accept json
// @Produce json
// @Param id path string true "Paper ID"
// @Param payload body models.CreateCommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /papers/{id}/comments [post]
func (h *PaperHandler) AddComment(c *gin.Context) {
	var req models.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid comment payload"))
		return
	}

	comment, err := h.service.AddComment(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// DeleteComment godoc
// @Summary Delete a comment
// @Tags Papers
// @Param id path string true "Paper ID"
// @Param commentId path string true "Comment ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /papers/{id}/comments/{commentId} [delete]
func (h *PaperHandler) DeleteComment(c *gin.Context) {
	if err := h.service.DeleteComment(c.Request.Context(), c.Param("id"), c.Param("commentId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DownloadPermission godoc
// @Summary Check download permission
// @Description Evaluates whether userId (or the caller) may download the paper
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Param userId query string false "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /papers/{id}/download-permission [get]
func (h *PaperHandler) DownloadPermission(c *gin.Context) {
	permission, err := h.service.DownloadPermission(c.Request.Context(), c.Param("id"), c.Query("userId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, permission, nil)
}

// Download godoc
// @Summary Download the paper binary
// @Tags Papers
// @Produce application/pdf
// @Param id path string true "Paper ID"
// @Param token query string false "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /papers/{id}/download [get]
func (h *PaperHandler) Download(c *gin.Context) {
	paper, content, err := h.service.Download(c.Request.Context(), c.Param("id"), c.Query("token"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer content.Close()

	response.Stream(c, paper.FileName, paper.MimeType, paper.SizeBytes, content)
}

func (h *PaperHandler) readUpload(c *gin.Context) (models.FileUpload, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return models.FileUpload{}, invalidPayload(err, "file is required")
	}
	if header.Size > h.maxUploadBytes {
		return models.FileUpload{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds the %d byte limit", h.maxUploadBytes))
	}

	f, err := header.Open()
	if err != nil {
		return models.FileUpload{}, appErrors.Internal(err, "failed to read upload")
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return models.FileUpload{}, appErrors.Internal(err, "failed to read upload")
	}
	return models.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(content)),
		Content:     content,
	}, nil
}

func paperInputFromForm(c *gin.Context) (models.PaperInput, error) {
	var input models.PaperInput
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return input, invalidPayload(err, "metadata must be a JSON object")
		}
		return input, nil
	}

	input.Title = c.PostForm("title")
	input.Description = c.PostForm("description")
	input.Journal = c.PostForm("journal")
	input.Publisher = c.PostForm("publisher")
	input.Tags = splitFormList(c.PostFormArray("tags"))
	input.SDGs = splitFormList(c.PostFormArray("sdgs"))
	if raw := strings.TrimSpace(c.PostForm("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return input, invalidPayload(err, "year must be a number")
		}
		input.Year = &year
	}
	if raw := c.PostForm("authors"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Authors); err != nil {
			for _, name := range splitFormList([]string{raw}) {
				input.Authors = append(input.Authors, models.Author{Name: name})
			}
		}
	}
	return input, nil
}

// splitFormList accepts both repeated fields and comma separated values.
func splitFormList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func paperFilterFromQuery(c *gin.Context) (models.PaperFilter, error) {
	filter := models.PaperFilter{
		Query:   c.Query("q"),
		Tag:     c.Query("tag"),
		SDG:     c.Query("sdg"),
		Author:  c.Query("author"),
		Journal: c.Query("journal"),
		OwnerID: c.Query("ownerId"),
		Sort:    strings.ToLower(c.DefaultQuery("sort", models.PaperSortNewest)),
	}
	filter.Page, filter.PageSize = pageParams(c)

	switch filter.Sort {
	case models.PaperSortNewest, models.PaperSortOldest, models.PaperSortTitle, models.PaperSortYear, models.PaperSortLikes:
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, "sort must be one of newest, oldest, title, year, likes")
	}

	if raw := c.Query("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return filter, invalidPayload(err, "year must be a number")
		}
		filter.Year = &year
	}
	return filter, nil
}
