package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/paper-repository-api/internal/models"
)

const paperColumns = `id, title, description, journal, year, publisher, authors, tags, sdgs, owner_id,
       file_id, file_name, mime_type, size_bytes, likes, dislikes, created_at, updated_at`

var paperSorts = map[string]string{
	models.PaperSortNewest: "created_at DESC",
	models.PaperSortOldest: "created_at ASC",
	models.PaperSortTitle:  "LOWER(title) ASC, created_at DESC",
	models.PaperSortYear:   "year DESC NULLS LAST, created_at DESC",
	models.PaperSortLikes:  "likes DESC, created_at DESC",
}

// PaperRepository stores catalog metadata, votes and comments.
type PaperRepository struct {
	db *sqlx.DB
}

// NewPaperRepository constructs the repository.
func NewPaperRepository(db *sqlx.DB) *PaperRepository {
	return &PaperRepository{db: db}
}

// Create inserts paper metadata. The blob must already be stored under FileID.
func (r *PaperRepository) Create(ctx context.Context, paper *models.Paper) error {
	if paper.ID == "" {
		paper.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if paper.CreatedAt.IsZero() {
		paper.CreatedAt = now
	}
	paper.UpdatedAt = now
	normalizeArrays(paper)

	const query = `INSERT INTO papers
	(id, title, description, journal, year, publisher, authors, tags, sdgs, owner_id, file_id, file_name, mime_type, size_bytes, likes, dislikes, created_at, updated_at)
	VALUES (:id, :title, :description, :journal, :year, :publisher, :authors, :tags, :sdgs, :owner_id, :file_id, :file_name, :mime_type, :size_bytes, 0, 0, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, paper); err != nil {
		return fmt.Errorf("create paper: %w", err)
	}
	return nil
}

// GetByID fetches a paper by identifier.
func (r *PaperRepository) GetByID(ctx context.Context, id string) (*models.Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers WHERE id = $1`
	var paper models.Paper
	if err := r.db.GetContext(ctx, &paper, query, id); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}
	return &paper, nil
}

// UpdateMetadata persists editable metadata fields.
func (r *PaperRepository) UpdateMetadata(ctx context.Context, paper *models.Paper) error {
	paper.UpdatedAt = time.Now().UTC()
	normalizeArrays(paper)
	const query = `UPDATE papers SET title = :title, description = :description, journal = :journal, year = :year,
	publisher = :publisher, authors = :authors, tags = :tags, sdgs = :sdgs, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, paper)
	if err != nil {
		if isInvalidID(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("update paper: %w", err)
	}
	return expectOne(result, "update paper")
}

// ReplaceFile points the paper at a new blob.
func (r *PaperRepository) ReplaceFile(ctx context.Context, id, fileID, fileName, mimeType string, size int64) error {
	const query = `UPDATE papers SET file_id = $2, file_name = $3, mime_type = $4, size_bytes = $5, updated_at = $6 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, fileID, fileName, mimeType, size, time.Now().UTC())
	if err != nil {
		if isInvalidID(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("replace paper file: %w", err)
	}
	return expectOne(result, "replace paper file")
}

// Delete removes a paper. Votes and comments cascade; requests keep their snapshot.
func (r *PaperRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM papers WHERE id = $1`, id)
	if err != nil {
		if isInvalidID(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("delete paper: %w", err)
	}
	return expectOne(result, "delete paper")
}

// List returns a page of papers matching the filter together with the total count.
func (r *PaperRepository) List(ctx context.Context, filter models.PaperFilter) ([]models.Paper, int, error) {
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return []models.Paper{}, 0, nil
	}

	where, args := paperConditions(filter)
	order, ok := paperSorts[filter.Sort]
	if !ok {
		order = paperSorts[models.PaperSortNewest]
		if len(filter.IDs) > 0 {
			args = append(args, pq.Array(filter.IDs))
			order = fmt.Sprintf("array_position($%d::text[], id::text)", len(args))
		}
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	listQuery := fmt.Sprintf("SELECT %s FROM papers%s ORDER BY %s LIMIT %d OFFSET %d",
		paperColumns, where, order, pageSize, (page-1)*pageSize)

	papers := make([]models.Paper, 0)
	if err := r.db.SelectContext(ctx, &papers, listQuery, args...); err != nil {
		if isInvalidID(err) {
			return []models.Paper{}, 0, nil
		}
		return nil, 0, fmt.Errorf("list papers: %w", err)
	}

	countArgs := args
	if strings.HasPrefix(order, "array_position") {
		countArgs = args[:len(args)-1]
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM papers"+where, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count papers: %w", err)
	}
	return papers, total, nil
}

// All returns every paper; used to rebuild the search index.
func (r *PaperRepository) All(ctx context.Context) ([]models.Paper, error) {
	papers := make([]models.Paper, 0)
	if err := r.db.SelectContext(ctx, &papers, `SELECT `+paperColumns+` FROM papers ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list all papers: %w", err)
	}
	return papers, nil
}

// ListByOwner returns the papers uploaded by ownerID.
func (r *PaperRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Paper, error) {
	papers := make([]models.Paper, 0)
	query := `SELECT ` + paperColumns + ` FROM papers WHERE owner_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &papers, query, ownerID); err != nil {
		if isInvalidID(err) {
			return papers, nil
		}
		return nil, fmt.Errorf("list papers by owner: %w", err)
	}
	return papers, nil
}

func paperConditions(filter models.PaperFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	add := func(format string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}

	if len(filter.IDs) > 0 {
		add("id::text = ANY($%d)", pq.Array(filter.IDs))
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		add("EXISTS (SELECT 1 FROM unnest(tags) t WHERE LOWER(t) = LOWER($%d))", tag)
	}
	if sdg := strings.TrimSpace(filter.SDG); sdg != "" {
		add("EXISTS (SELECT 1 FROM unnest(sdgs) s WHERE LOWER(s) = LOWER($%d))", sdg)
	}
	if author := strings.TrimSpace(filter.Author); author != "" {
		add("EXISTS (SELECT 1 FROM jsonb_array_elements(authors) a WHERE LOWER(a->>'name') LIKE $%d)", "%"+strings.ToLower(author)+"%")
	}
	if journal := strings.TrimSpace(filter.Journal); journal != "" {
		add("LOWER(journal) LIKE $%d", "%"+strings.ToLower(journal)+"%")
	}
	if filter.Year != nil {
		add("year = $%d", *filter.Year)
	}
	if filter.OwnerID != "" {
		add("owner_id::text = $%d", filter.OwnerID)
	}
	if filter.MemberID != "" {
		args = append(args, filter.MemberID)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(owner_id::text = $%d OR authors @> jsonb_build_array(jsonb_build_object('userId', $%d::text)))", n, n))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Vote applies a like or dislike from userID. Repeating the current vote clears
// it; the opposite vote replaces it. Counters are recomputed in the same transaction.
func (r *PaperRepository) Vote(ctx context.Context, paperID, userID string, vote int) (*models.VoteResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin vote tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID string
	if err := tx.GetContext(ctx, &lockedID, `SELECT id FROM papers WHERE id = $1 FOR UPDATE`, paperID); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock paper for vote: %w", err)
	}

	var current int
	err = tx.GetContext(ctx, &current, `SELECT vote FROM paper_votes WHERE paper_id = $1 AND user_id = $2`, paperID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return nil, fmt.Errorf("read vote: %w", err)
	}

	myVote := vote
	switch current {
	case 0:
		_, err = tx.ExecContext(ctx, `INSERT INTO paper_votes (paper_id, user_id, vote, created_at) VALUES ($1, $2, $3, $4)`, paperID, userID, vote, time.Now().UTC())
	case vote:
		myVote = 0
		_, err = tx.ExecContext(ctx, `DELETE FROM paper_votes WHERE paper_id = $1 AND user_id = $2`, paperID, userID)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE paper_votes SET vote = $3, created_at = $4 WHERE paper_id = $1 AND user_id = $2`, paperID, userID, vote, time.Now().UTC())
	}
	if err != nil {
		return nil, fmt.Errorf("write vote: %w", err)
	}

	result := &models.VoteResult{PaperID: paperID, MyVote: myVote}
	const recount = `UPDATE papers SET
		likes = (SELECT COUNT(*) FROM paper_votes WHERE paper_id = $1 AND vote = 1),
		dislikes = (SELECT COUNT(*) FROM paper_votes WHERE paper_id = $1 AND vote = -1)
	WHERE id = $1 RETURNING likes, dislikes`
	if err := tx.QueryRowxContext(ctx, recount, paperID).Scan(&result.Likes, &result.Dislikes); err != nil {
		return nil, fmt.Errorf("recount votes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}
	return result, nil
}

// GetVote returns userID's current vote on the paper, 0 when none.
func (r *PaperRepository) GetVote(ctx context.Context, paperID, userID string) (int, error) {
	var vote int
	err := r.db.GetContext(ctx, &vote, `SELECT vote FROM paper_votes WHERE paper_id = $1 AND user_id = $2`, paperID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get vote: %w", err)
	}
	return vote, nil
}

const commentColumns = `id, paper_id, user_id, author_name, body, parent_id, created_at`

// ListComments returns the paper's comments oldest first.
func (r *PaperRepository) ListComments(ctx context.Context, paperID string) ([]models.Comment, error) {
	comments := make([]models.Comment, 0)
	query := `SELECT ` + commentColumns + ` FROM paper_comments WHERE paper_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &comments, query, paperID); err != nil {
		if isInvalidID(err) {
			return comments, nil
		}
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// GetComment fetches a single comment.
func (r *PaperRepository) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.GetContext(ctx, &comment, `SELECT `+commentColumns+` FROM paper_comments WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &comment, nil
}

// CreateComment inserts a comment or reply.
func (r *PaperRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO paper_comments (id, paper_id, user_id, author_name, body, parent_id, created_at)
	VALUES (:id, :paper_id, :user_id, :author_name, :body, :parent_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// DeleteComment removes a comment and its replies.
func (r *PaperRepository) DeleteComment(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM paper_comments WHERE id = $1`, id)
	if err != nil {
		if isInvalidID(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectOne(result, "delete comment")
}

// AuthorStats aggregates paper count, votes and latest year per author name.
func (r *PaperRepository) AuthorStats(ctx context.Context) ([]models.AuthorStat, error) {
	const query = `SELECT a->>'name' AS author,
	       COUNT(DISTINCT p.id) AS papers,
	       COALESCE(SUM(p.likes), 0) AS likes,
	       COALESCE(SUM(p.dislikes), 0) AS dislikes,
	       MAX(p.year) AS latest_year
	FROM papers p, jsonb_array_elements(p.authors) a
	WHERE COALESCE(a->>'name', '') <> ''
	GROUP BY a->>'name'
	ORDER BY papers DESC, likes DESC, author ASC`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("author stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.AuthorStat, 0)
	for rows.Next() {
		var (
			stat   models.AuthorStat
			latest sql.NullInt64
		)
		if err := rows.Scan(&stat.Author, &stat.Papers, &stat.Likes, &stat.Dislikes, &latest); err != nil {
			return nil, fmt.Errorf("scan author stats: %w", err)
		}
		if latest.Valid {
			year := int(latest.Int64)
			stat.LatestYear = &year
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author stats: %w", err)
	}
	return stats, nil
}

func expectOne(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalizeArrays(paper *models.Paper) {
	if paper.Tags == nil {
		paper.Tags = pq.StringArray{}
	}
	if paper.SDGs == nil {
		paper.SDGs = pq.StringArray{}
	}
	if paper.Authors == nil {
		paper.Authors = models.AuthorList{}
	}
}
