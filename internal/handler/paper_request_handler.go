package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/response"
)

const msgRequestSubmitted = "Paper request submitted successfully"

type paperRequestService interface {
	Submit(ctx context.Context, paperID, requesterID, reason string) (*models.PaperRequest, error)
	Process(ctx context.Context, requestID string, decision models.RequestStatus, adminID string, message *string) (*models.ProcessResult, error)
	ListAll(ctx context.Context) ([]models.PaperRequest, error)
	ListPending(ctx context.Context) ([]models.PaperRequest, error)
	ListByUser(ctx context.Context, userID string) ([]models.PaperRequest, error)
}

// PaperRequestHandler exposes the access request workflow.
type PaperRequestHandler struct {
	service paperRequestService
}

// NewPaperRequestHandler constructs the handler.
func NewPaperRequestHandler(svc paperRequestService) *PaperRequestHandler {
	return &PaperRequestHandler{service: svc}
}

// Submit godoc
// @Summary Request access to a paper
// @Description Stores a pending request for an administrator to review
// @Tags Paper Requests
// @Accept json
// @Produce json
// @Param payload body models.SubmitPaperRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /paper-requests/request [post]
func (h *PaperRequestHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.SubmitPaperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid request payload"))
		return
	}

	requesterID := strings.TrimSpace(req.UserID)
	if requesterID == "" {
		requesterID = claims.UserID
	}
	if requesterID != claims.UserID && claims.Role != models.RoleAdmin {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot submit a request on behalf of another user"))
		return
	}

	created, err := h.service.Submit(c.Request.Context(), req.PaperID, requesterID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, models.SubmitPaperResponse{Message: msgRequestSubmitted, RequestID: created.ID})
}

// ListAll godoc
// @Summary List all paper requests
// @Tags Paper Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /paper-requests/admin/requests [get]
func (h *PaperRequestHandler) ListAll(c *gin.Context) {
	requests, err := h.service.ListAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// ListPending godoc
// @Summary List pending paper requests
// @Tags Paper Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /paper-requests/admin/requests/pending [get]
func (h *PaperRequestHandler) ListPending(c *gin.Context) {
	requests, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Process godoc
// @Summary Approve or reject a paper request
// @Description Persists the decision, mails the requester and, on approval, mails the paper
// @Tags Paper Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body models.ProcessPaperRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /paper-requests/admin/requests/{id} [put]
func (h *PaperRequestHandler) Process(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ProcessPaperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid decision payload"))
		return
	}

	adminID := strings.TrimSpace(req.AdminID)
	if adminID == "" {
		adminID = claims.UserID
	}
	if adminID != claims.UserID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "adminId must be the authenticated reviewer"))
		return
	}

	result, err := h.service.Process(c.Request.Context(), c.Param("id"), req.Status, adminID, req.AdminMessage)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// ListByUser godoc
// @Summary List a user's paper requests
// @Tags Paper Requests
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /paper-requests/user/{userId}/requests [get]
func (h *PaperRequestHandler) ListByUser(c *gin.Context) {
	requests, err := h.service.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}
