package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/internal/repository"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/storage"
)

const (
	msgPendingDuplicate  = "you already have a pending request for this paper"
	msgApprovedDuplicate = "you already have access to this paper"
)

type paperRequestStore interface {
	Create(ctx context.Context, req *models.PaperRequest) error
	GetByID(ctx context.Context, id string) (*models.PaperRequest, error)
	FindActive(ctx context.Context, userID, paperID string) (*models.PaperRequest, error)
	List(ctx context.Context, filter models.PaperRequestFilter) ([]models.PaperRequest, error)
	UpdateDecision(ctx context.Context, params repository.DecisionParams) error
}

type paperReader interface {
	GetByID(ctx context.Context, id string) (*models.Paper, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type blobOpener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

type requestNotifier interface {
	SendDecision(ctx context.Context, to, paperTitle string, decision models.RequestStatus, message *string) error
	SendApprovedAttachment(ctx context.Context, to string, meta models.PaperMeta, content []byte, message *string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PaperRequestService runs the request, review, decision and notification lifecycle.
type PaperRequestService struct {
	requests  paperRequestStore
	papers    paperReader
	users     userReader
	blobs     blobOpener
	notifier  requestNotifier
	audit     auditLogger
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaperRequestService wires the workflow collaborators.
func NewPaperRequestService(
	requests paperRequestStore,
	papers paperReader,
	users userReader,
	blobs blobOpener,
	notifier requestNotifier,
	audit auditLogger,
	validate *validator.Validate,
	metrics *MetricsService,
	logger *zap.Logger,
) *PaperRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PaperRequestService{
		requests:  requests,
		papers:    papers,
		users:     users,
		blobs:     blobs,
		notifier:  notifier,
		audit:     audit,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores a pending request by requesterID for paperID, snapshotting the current title.
func (s *PaperRequestService) Submit(ctx context.Context, paperID, requesterID, reason string) (*models.PaperRequest, error) {
	paperID = strings.TrimSpace(paperID)
	requesterID = strings.TrimSpace(requesterID)
	reason = strings.TrimSpace(reason)
	if paperID == "" || requesterID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "paperId and userId are required")
	}
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if err := s.validator.Struct(models.SubmitPaperRequest{PaperID: paperID, UserID: requesterID, Reason: reason}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid paper request")
	}

	paper, err := s.papers.GetByID(ctx, paperID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaperNotFound
		}
		return nil, appErrors.Internal(err, "failed to load paper")
	}
	if _, err := s.users.FindByID(ctx, requesterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Internal(err, "failed to load requester")
	}

	if err := s.ensureNoActive(ctx, requesterID, paperID); err != nil {
		return nil, err
	}

	req := &models.PaperRequest{
		PaperID:    paper.ID,
		UserID:     requesterID,
		PaperTitle: paper.Title,
		Reason:     reason,
		Status:     models.RequestStatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			if dupErr := s.ensureNoActive(ctx, requesterID, paperID); dupErr != nil {
				return nil, dupErr
			}
			return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, msgPendingDuplicate)
		}
		return nil, appErrors.Internal(err, "failed to create paper request")
	}
	s.metrics.RecordRequestSubmitted()
	s.logger.Info("paper request submitted", zap.String("request_id", req.ID), zap.String("paper_id", paperID), zap.String("user_id", requesterID))
	return req, nil
}

func (s *PaperRequestService) ensureNoActive(ctx context.Context, userID, paperID string) error {
	active, err := s.requests.FindActive(ctx, userID, paperID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Internal(err, "failed to check existing requests")
	}
	if active.Status == models.RequestStatusApproved {
		return appErrors.Clone(appErrors.ErrDuplicateRequest, msgApprovedDuplicate)
	}
	return appErrors.Clone(appErrors.ErrDuplicateRequest, msgPendingDuplicate)
}

// Process records an administrator decision on a pending request and then
// sends the notifications. The status change is persisted first; mail
// failures are reported in the result and never undo it.
func (s *PaperRequestService) Process(ctx context.Context, requestID string, decision models.RequestStatus, adminID string, message *string) (*models.ProcessResult, error) {
	decision = models.RequestStatus(strings.ToLower(strings.TrimSpace(string(decision))))
	if !decision.IsDecision() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be approved or rejected")
	}
	if strings.TrimSpace(adminID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "adminId is required")
	}
	if err := s.validator.Struct(models.ProcessPaperRequest{Status: decision, AdminID: adminID, AdminMessage: message}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestNotFound
		}
		return nil, appErrors.Internal(err, "failed to load paper request")
	}
	if req.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request has already been %s", req.Status))
	}

	message = optionalMessage(message)
	processedAt := s.now()
	err = s.requests.UpdateDecision(ctx, repository.DecisionParams{
		ID:           req.ID,
		Status:       decision,
		ProcessedBy:  adminID,
		ProcessedAt:  processedAt,
		AdminMessage: message,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request has already been processed")
		}
		return nil, appErrors.Internal(err, "failed to update paper request")
	}
	req.Status = decision
	req.ProcessedAt = &processedAt
	req.ProcessedBy = &adminID
	req.AdminMessage = message
	s.metrics.RecordRequestProcessed(decision)
	s.emitAudit(ctx, adminID, req)

	result := &models.ProcessResult{
		Request:    req,
		Decision:   models.NotificationStep{Outcome: models.NotificationSkipped},
		Attachment: models.NotificationStep{Outcome: models.NotificationSkipped},
	}

	requester, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		s.logger.Warn("requester unavailable for notification", zap.String("request_id", req.ID), zap.Error(err))
		result.Decision.Error = "requester account no longer exists"
		result.Message = fmt.Sprintf("request %s; requester could not be notified", decision)
		return result, nil
	}

	result.Decision = s.notifyDecision(ctx, requester.Email, req)
	if decision == models.RequestStatusApproved {
		result.Attachment = s.notifyAttachment(ctx, requester.Email, req)
	}
	result.Message = summarize(decision, result)
	return result, nil
}

func (s *PaperRequestService) notifyDecision(ctx context.Context, to string, req *models.PaperRequest) models.NotificationStep {
	step := models.NotificationStep{Outcome: models.NotificationSent}
	if err := s.notifier.SendDecision(ctx, to, req.PaperTitle, req.Status, req.AdminMessage); err != nil {
		s.logger.Warn("decision notification failed", zap.String("request_id", req.ID), zap.Error(err))
		step = models.NotificationStep{Outcome: models.NotificationFailed, Error: err.Error()}
	}
	s.metrics.RecordNotification("decision", step.Outcome)
	return step
}

// notifyAttachment buffers the paper binary completely before handing it to the mailer.
func (s *PaperRequestService) notifyAttachment(ctx context.Context, to string, req *models.PaperRequest) models.NotificationStep {
	step := s.sendAttachment(ctx, to, req)
	if step.Outcome != models.NotificationSent {
		s.logger.Warn("attachment notification not delivered",
			zap.String("request_id", req.ID),
			zap.String("outcome", string(step.Outcome)),
			zap.String("error", step.Error),
		)
	}
	s.metrics.RecordNotification("attachment", step.Outcome)
	return step
}

func (s *PaperRequestService) sendAttachment(ctx context.Context, to string, req *models.PaperRequest) models.NotificationStep {
	paper, err := s.papers.GetByID(ctx, req.PaperID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotificationStep{Outcome: models.NotificationPaperNotFound, Error: "paper no longer exists"}
		}
		return models.NotificationStep{Outcome: models.NotificationFailed, Error: err.Error()}
	}
	content, err := s.readBlob(ctx, paper.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return models.NotificationStep{Outcome: models.NotificationPaperNotFound, Error: "paper file no longer exists"}
		}
		return models.NotificationStep{Outcome: models.NotificationFailed, Error: err.Error()}
	}
	if err := s.notifier.SendApprovedAttachment(ctx, to, paper.Meta(), content, req.AdminMessage); err != nil {
		return models.NotificationStep{Outcome: models.NotificationFailed, Error: err.Error()}
	}
	return models.NotificationStep{Outcome: models.NotificationSent}
}

func (s *PaperRequestService) readBlob(ctx context.Context, fileID string) ([]byte, error) {
	rc, err := s.blobs.Open(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read paper file: %w", err)
	}
	return data, nil
}

// ListAll returns every request, newest first.
func (s *PaperRequestService) ListAll(ctx context.Context) ([]models.PaperRequest, error) {
	return s.list(ctx, models.PaperRequestFilter{})
}

// ListPending returns requests awaiting review, newest first.
func (s *PaperRequestService) ListPending(ctx context.Context) ([]models.PaperRequest, error) {
	status := models.RequestStatusPending
	return s.list(ctx, models.PaperRequestFilter{Status: &status})
}

// ListByUser returns the requests submitted by userID, newest first.
func (s *PaperRequestService) ListByUser(ctx context.Context, userID string) ([]models.PaperRequest, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	return s.list(ctx, models.PaperRequestFilter{UserID: userID})
}

func (s *PaperRequestService) list(ctx context.Context, filter models.PaperRequestFilter) ([]models.PaperRequest, error) {
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list paper requests")
	}
	return requests, nil
}

func (s *PaperRequestService) emitAudit(ctx context.Context, adminID string, req *models.PaperRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"status":       req.Status,
		"paperId":      req.PaperID,
		"userId":       req.UserID,
		"adminMessage": req.AdminMessage,
	})
	err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionRequestProcess,
		Resource:   "paper_request",
		ResourceID: &req.ID,
		OldValues:  []byte(`{"status":"pending"}`),
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "paper-request-service",
	})
	if err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func summarize(decision models.RequestStatus, result *models.ProcessResult) string {
	switch {
	case result.Decision.Outcome != models.NotificationSent:
		return fmt.Sprintf("request %s; decision notification could not be delivered", decision)
	case decision == models.RequestStatusApproved && result.Attachment.Outcome == models.NotificationPaperNotFound:
		return "request approved; the paper no longer exists so no attachment was sent"
	case decision == models.RequestStatusApproved && result.Attachment.Outcome != models.NotificationSent:
		return "request approved; the paper could not be delivered"
	case decision == models.RequestStatusApproved:
		return "request approved and paper sent to the requester"
	default:
		return "request rejected and requester notified"
	}
}

func optionalMessage(message *string) *string {
	if message == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*message)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
