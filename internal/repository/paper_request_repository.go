package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/paper-repository-api/internal/models"
)

const paperRequestColumns = `r.id, r.paper_id, r.user_id, r.paper_title, r.reason, r.status, r.created_at,
       r.processed_at, r.processed_by, r.admin_message`

// PaperRequestRepository persists paper access requests.
type PaperRequestRepository struct {
	db *sqlx.DB
}

// NewPaperRequestRepository constructs the repository.
func NewPaperRequestRepository(db *sqlx.DB) *PaperRequestRepository {
	return &PaperRequestRepository{db: db}
}

// Create inserts a pending request. A concurrent active request for the same
// user and paper trips the partial unique index and yields ErrDuplicate.
func (r *PaperRequestRepository) Create(ctx context.Context, req *models.PaperRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO paper_requests
	(id, paper_id, user_id, paper_title, reason, status, created_at, processed_at, processed_by, admin_message)
	VALUES (:id, :paper_id, :user_id, :paper_title, :reason, :status, :created_at, :processed_at, :processed_by, :admin_message)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create paper request: %w", ErrDuplicate)
		}
		return fmt.Errorf("create paper request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *PaperRequestRepository) GetByID(ctx context.Context, id string) (*models.PaperRequest, error) {
	query := `SELECT ` + paperRequestColumns + ` FROM paper_requests r WHERE r.id = $1`
	var req models.PaperRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get paper request: %w", err)
	}
	return &req, nil
}

// FindActive returns the pending or approved request of userID for paperID.
func (r *PaperRequestRepository) FindActive(ctx context.Context, userID, paperID string) (*models.PaperRequest, error) {
	query := `SELECT ` + paperRequestColumns + ` FROM paper_requests r
	WHERE r.user_id = $1 AND r.paper_id = $2 AND r.status IN ('pending', 'approved')
	ORDER BY r.created_at DESC LIMIT 1`
	var req models.PaperRequest
	if err := r.db.GetContext(ctx, &req, query, userID, paperID); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find active paper request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter, newest first, with requester contact details.
func (r *PaperRequestRepository) List(ctx context.Context, filter models.PaperRequestFilter) ([]models.PaperRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString(`SELECT ` + paperRequestColumns + `, u.email AS requester_email, u.full_name AS requester_name
	FROM paper_requests r LEFT JOIN users u ON u.id = r.user_id`)

	conditions := make([]string, 0, 2)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("r.user_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY r.created_at DESC")

	requests := make([]models.PaperRequest, 0)
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		if isInvalidID(err) {
			return requests, nil
		}
		return nil, fmt.Errorf("list paper requests: %w", err)
	}
	return requests, nil
}

// DecisionParams groups the columns written when a request is processed.
type DecisionParams struct {
	ID           string
	Status       models.RequestStatus
	ProcessedBy  string
	ProcessedAt  time.Time
	AdminMessage *string
}

// UpdateDecision moves a pending request to its terminal status. It only
// matches pending rows; zero affected rows yields sql.ErrNoRows.
func (r *PaperRequestRepository) UpdateDecision(ctx context.Context, params DecisionParams) error {
	query := fmt.Sprintf(`UPDATE paper_requests
	SET status = :status, processed_by = :processed_by, processed_at = :processed_at, admin_message = :admin_message
	WHERE id = :id AND status = '%s'`, models.RequestStatusPending)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":            params.ID,
		"status":        params.Status,
		"processed_by":  params.ProcessedBy,
		"processed_at":  params.ProcessedAt,
		"admin_message": params.AdminMessage,
	})
	if err != nil {
		if isInvalidID(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("update paper request decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check paper request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
