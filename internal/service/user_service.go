package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/jobs"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type ownedPaperLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]models.Paper, error)
}

type blobDeleter interface {
	Delete(ctx context.Context, id string) error
}

type indexEnqueuer interface {
	Enqueue(task jobs.Task) error
}

type accountNotifier interface {
	SendAccountStatus(ctx context.Context, to, name string, status models.UserStatus) error
}

// ActorMeta identifies who performed an administrative change.
type ActorMeta struct {
	ID        string
	IP        string
	UserAgent string
}

// UserService handles account administration workflows.
type UserService struct {
	repo      userRepository
	papers    ownedPaperLister
	blobs     blobDeleter
	index     indexEnqueuer
	notifier  accountNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, papers ownedPaperLister, blobs blobDeleter, index indexEnqueuer, notifier accountNotifier, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, papers: papers, blobs: blobs, index: index, notifier: notifier, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ListPending returns accounts awaiting approval.
func (s *UserService) ListPending(ctx context.Context, page, pageSize int) ([]models.User, *models.Pagination, error) {
	status := models.UserStatusPending
	return s.List(ctx, models.UserFilter{Status: &status, Page: page, PageSize: pageSize})
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// UpdateStatus approves or rejects an account and mails the owner.
func (s *UserService) UpdateStatus(ctx context.Context, id string, req models.UpdateUserStatusRequest, actor ActorMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Status == req.Status {
		return user, nil
	}

	previous := user.Status
	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		return nil, appErrors.Internal(err, "failed to update user status")
	}
	user.Status = req.Status

	s.audit(ctx, actor, models.AuditActionUserStatusChange, user.ID,
		map[string]interface{}{"status": previous},
		map[string]interface{}{"status": user.Status},
	)

	if s.notifier != nil {
		if err := s.notifier.SendAccountStatus(ctx, user.Email, user.FullName, user.Status); err != nil {
			s.logger.Warn("failed to notify account status", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return user, nil
}

// UpdateRole changes a user's role. Administrators cannot change their own role.
func (s *UserService) UpdateRole(ctx context.Context, id string, req models.UpdateUserRoleRequest, actor ActorMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if id == actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change your own role")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := user.Role
	if err := s.repo.UpdateRole(ctx, id, req.Role); err != nil {
		return nil, appErrors.Internal(err, "failed to update user role")
	}
	user.Role = req.Role

	s.audit(ctx, actor, models.AuditActionUserRoleChange, user.ID,
		map[string]interface{}{"role": previous},
		map[string]interface{}{"role": user.Role},
	)
	return user, nil
}

// Delete removes an account together with its papers. Binaries and search
// entries of the owned papers are cleaned up best-effort after the rows are gone.
func (s *UserService) Delete(ctx context.Context, id string, actor ActorMeta) error {
	if id == actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete your own account")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	owned, err := s.papers.ListByOwner(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to list user papers")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrUserNotFound
		}
		return appErrors.Internal(err, "failed to delete user")
	}

	for _, paper := range owned {
		if err := s.blobs.Delete(ctx, paper.FileID); err != nil {
			s.logger.Warn("failed to delete paper file", zap.String("paper_id", paper.ID), zap.Error(err))
		}
		if s.index != nil {
			if err := s.index.Enqueue(jobs.Task{Kind: jobs.KindDelete, Key: paper.ID}); err != nil {
				s.logger.Warn("failed to enqueue index removal", zap.String("paper_id", paper.ID), zap.Error(err))
			}
		}
	}

	s.audit(ctx, actor, models.AuditActionUserDelete, user.ID,
		map[string]interface{}{"email": user.Email, "papers": len(owned)},
		nil,
	)
	return nil
}

func (s *UserService) audit(ctx context.Context, actor ActorMeta, action, resourceID string, oldValues, newValues map[string]interface{}) {
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if actor.ID != "" {
		entry.UserID = &actor.ID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
