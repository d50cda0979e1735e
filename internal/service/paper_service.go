package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/jobs"
	"github.com/noah-isme/paper-repository-api/pkg/storage"
)

const pdfMimeType = "application/pdf"

type paperStore interface {
	Create(ctx context.Context, paper *models.Paper) error
	GetByID(ctx context.Context, id string) (*models.Paper, error)
	UpdateMetadata(ctx context.Context, paper *models.Paper) error
	ReplaceFile(ctx context.Context, id, fileID, fileName, mimeType string, size int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.PaperFilter) ([]models.Paper, int, error)
	Vote(ctx context.Context, paperID, userID string, vote int) (*models.VoteResult, error)
	GetVote(ctx context.Context, paperID, userID string) (int, error)
	ListComments(ctx context.Context, paperID string) ([]models.Comment, error)
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	CreateComment(ctx context.Context, comment *models.Comment) error
	DeleteComment(ctx context.Context, id string) error
}

type paperSearcher interface {
	Search(ctx context.Context, text string) ([]string, error)
}

type downloadSigner interface {
	Generate(paperID, subject string) (string, time.Time, error)
	Parse(token string) (paperID, subject string, expiresAt time.Time, err error)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context)
}

// PaperConfig tunes upload limits and download links.
type PaperConfig struct {
	MaxUploadBytes int64
	PublicBaseURL  string
}

// PaperService manages the catalog, its binaries, votes and comments.
type PaperService struct {
	repo      paperStore
	blobs     storage.BlobStore
	index     indexEnqueuer
	searcher  paperSearcher
	signer    downloadSigner
	users     userReader
	audit     auditLogger
	stats     statsInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	config    PaperConfig
}

// NewPaperService wires the catalog collaborators.
func NewPaperService(
	repo paperStore,
	blobs storage.BlobStore,
	index indexEnqueuer,
	searcher paperSearcher,
	signer downloadSigner,
	users userReader,
	audit auditLogger,
	stats statsInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
	config PaperConfig,
) *PaperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 25 << 20
	}
	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")
	return &PaperService{
		repo:      repo,
		blobs:     blobs,
		index:     index,
		searcher:  searcher,
		signer:    signer,
		users:     users,
		audit:     audit,
		stats:     stats,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// Upload stores the binary and creates the catalog entry owned by the caller.
func (s *PaperService) Upload(ctx context.Context, input models.PaperInput, file models.FileUpload, claims *models.JWTClaims) (*models.Paper, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	input.Normalize()
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid paper metadata")
	}
	if err := s.checkFile(&file); err != nil {
		return nil, err
	}

	info, err := s.blobs.Put(ctx, file.Filename, file.ContentType, bytes.NewReader(file.Content))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store paper file")
	}

	paper := &models.Paper{OwnerID: claims.UserID}
	applyInput(paper, input)
	paper.FileID = info.ID
	paper.FileName = file.Filename
	paper.MimeType = file.ContentType
	paper.SizeBytes = info.Size

	if err := s.repo.Create(ctx, paper); err != nil {
		if delErr := s.blobs.Delete(ctx, info.ID); delErr != nil {
			s.logger.Warn("failed to remove orphaned file", zap.String("file_id", info.ID), zap.Error(delErr))
		}
		return nil, appErrors.Internal(err, "failed to create paper")
	}

	s.reindex(jobs.KindIndex, paper.ID)
	s.invalidateStats(ctx)
	s.logger.Info("paper uploaded", zap.String("paper_id", paper.ID), zap.String("owner_id", paper.OwnerID), zap.Int64("size", paper.SizeBytes))
	return paper, nil
}

// Get returns a catalog entry.
func (s *PaperService) Get(ctx context.Context, id string) (*models.Paper, error) {
	paper, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaperNotFound
		}
		return nil, appErrors.Internal(err, "failed to load paper")
	}
	return paper, nil
}

// Update replaces the metadata. Owners, structured co-authors and administrators may edit.
func (s *PaperService) Update(ctx context.Context, id string, input models.PaperInput, claims *models.JWTClaims) (*models.Paper, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	input.Normalize()
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid paper metadata")
	}
	paper, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !paper.CanEdit(claims.UserID, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner, a co-author or an administrator can edit this paper")
	}

	applyInput(paper, input)
	if err := s.repo.UpdateMetadata(ctx, paper); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaperNotFound
		}
		return nil, appErrors.Internal(err, "failed to update paper")
	}
	s.reindex(jobs.KindIndex, paper.ID)
	s.invalidateStats(ctx)
	return paper, nil
}

// ReplaceFile swaps the stored binary. Only the owner or an administrator may do so.
func (s *PaperService) ReplaceFile(ctx context.Context, id string, file models.FileUpload, claims *models.JWTClaims) (*models.Paper, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	paper, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isOwnerOrAdmin(paper, claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner or an administrator can replace the file")
	}
	if err := s.checkFile(&file); err != nil {
		return nil, err
	}

	info, err := s.blobs.Put(ctx, file.Filename, file.ContentType, bytes.NewReader(file.Content))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store paper file")
	}
	if err := s.repo.ReplaceFile(ctx, id, info.ID, file.Filename, file.ContentType, info.Size); err != nil {
		if delErr := s.blobs.Delete(ctx, info.ID); delErr != nil {
			s.logger.Warn("failed to remove orphaned file", zap.String("file_id", info.ID), zap.Error(delErr))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaperNotFound
		}
		return nil, appErrors.Internal(err, "failed to replace paper file")
	}

	previous := paper.FileID
	if err := s.blobs.Delete(ctx, previous); err != nil {
		s.logger.Warn("failed to remove replaced file", zap.String("file_id", previous), zap.Error(err))
	}
	paper.FileID = info.ID
	paper.FileName = file.Filename
	paper.MimeType = file.ContentType
	paper.SizeBytes = info.Size
	return paper, nil
}

// Delete removes the paper, its votes, comments, binary and index entry.
// Requests for the paper keep their title snapshot.
func (s *PaperService) Delete(ctx context.Context, id string, claims *models.JWTClaims, actor ActorMeta) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	paper, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !isOwnerOrAdmin(paper, claims) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner or an administrator can delete this paper")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrPaperNotFound
		}
		return appErrors.Internal(err, "failed to delete paper")
	}
	if err := s.blobs.Delete(ctx, paper.FileID); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		s.logger.Warn("failed to delete paper file", zap.String("paper_id", id), zap.Error(err))
	}
	s.reindex(jobs.KindDelete, id)
	s.invalidateStats(ctx)

	if s.audit != nil {
		oldValues, _ := json.Marshal(map[string]interface{}{"title": paper.Title, "ownerId": paper.OwnerID})
		entry := &models.AuditLog{
			UserID:     &claims.UserID,
			Action:     models.AuditActionPaperDelete,
			Resource:   "papers",
			ResourceID: &paper.ID,
			OldValues:  oldValues,
			IPAddress:  actor.IP,
			UserAgent:  actor.UserAgent,
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to record paper delete audit log", zap.Error(err))
		}
	}
	return nil
}

// List returns a filtered, sorted page of the catalog. A non-empty Query is
// resolved through the full-text index first.
func (s *PaperService) List(ctx context.Context, filter models.PaperFilter) ([]models.Paper, *models.Pagination, error) {
	filter.Query = strings.TrimSpace(filter.Query)
	if filter.Query != "" {
		ids, err := s.searcher.Search(ctx, filter.Query)
		if err != nil {
			return nil, nil, appErrors.Internal(err, "failed to search papers")
		}
		filter.IDs = ids
	}

	papers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list papers")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return papers, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ListForUser returns papers the user owns or is a registered co-author of.
func (s *PaperService) ListForUser(ctx context.Context, userID string, filter models.PaperFilter) ([]models.Paper, *models.Pagination, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	filter.MemberID = userID
	return s.List(ctx, filter)
}

// Vote toggles the caller's like or dislike.
func (s *PaperService) Vote(ctx context.Context, paperID string, vote int, claims *models.JWTClaims) (*models.VoteResult, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if vote != models.VoteLike && vote != models.VoteDislike {
		return nil, appErrors.Clone(appErrors.ErrValidation, "vote must be like or dislike")
	}
	result, err := s.repo.Vote(ctx, paperID, claims.UserID, vote)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrPaperNotFound
		}
		return nil, appErrors.Internal(err, "failed to record vote")
	}
	s.invalidateStats(ctx)
	return result, nil
}

// MyVote returns the caller's current vote, 0 when none.
func (s *PaperService) MyVote(ctx context.Context, paperID, userID string) (int, error) {
	vote, err := s.repo.GetVote(ctx, paperID, userID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to load vote")
	}
	return vote, nil
}

// Comments returns top-level comments oldest first, each with its replies.
func (s *PaperService) Comments(ctx context.Context, paperID string) ([]*models.Comment, error) {
	if _, err := s.Get(ctx, paperID); err != nil {
		return nil, err
	}
	flat, err := s.repo.ListComments(ctx, paperID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list comments")
	}
	return threadComments(flat), nil
}

// AddComment posts a comment or a reply to a top-level comment of the same paper.
func (s *PaperService) AddComment(ctx context.Context, paperID string, req models.CreateCommentRequest, claims *models.JWTClaims) (*models.Comment, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	if _, err := s.Get(ctx, paperID); err != nil {
		return nil, err
	}

	if req.ParentID != nil {
		parent, err := s.repo.GetComment(ctx, *req.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "parent comment not found")
			}
			return nil, appErrors.Internal(err, "failed to load parent comment")
		}
		if parent.PaperID != paperID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "parent comment belongs to another paper")
		}
		if parent.ParentID != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "replies can only target top-level comments")
		}
	}

	name := claims.FullName
	if name == "" {
		name = claims.Email
	}
	comment := &models.Comment{
		PaperID:    paperID,
		UserID:     claims.UserID,
		AuthorName: name,
		Body:       req.Body,
		ParentID:   req.ParentID,
	}
	if err := s.repo.CreateComment(ctx, comment); err != nil {
		return nil, appErrors.Internal(err, "failed to create comment")
	}
	return comment, nil
}

// DeleteComment removes a comment and its replies. Authors and administrators may delete.
func (s *PaperService) DeleteComment(ctx context.Context, paperID, commentID string, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	comment, err := s.repo.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return appErrors.Internal(err, "failed to load comment")
	}
	if comment.PaperID != paperID {
		return appErrors.Clone(appErrors.ErrNotFound, "comment not found")
	}
	if comment.UserID != claims.UserID && claims.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the author or an administrator can delete this comment")
	}
	if err := s.repo.DeleteComment(ctx, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return appErrors.Internal(err, "failed to delete comment")
	}
	return nil
}

// DownloadPermission evaluates whether userID may download the paper. An
// empty or unknown userID is treated as anonymous. A signed download link is
// only issued when the evaluated viewer is the authenticated caller.
func (s *PaperService) DownloadPermission(ctx context.Context, paperID, userID string, claims *models.JWTClaims) (*models.DownloadPermission, error) {
	paper, err := s.Get(ctx, paperID)
	if err != nil {
		return nil, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" && claims != nil {
		userID = claims.UserID
	}
	viewer, err := s.resolveViewer(ctx, userID)
	if err != nil {
		return nil, err
	}

	decision := EvaluateAccess(paper, viewer)
	permission := &models.DownloadPermission{
		CanDownload: decision.Allowed,
		Reason:      decision.Reason,
		PaperTitle:  paper.Title,
	}
	if decision.Allowed && claims != nil && viewer.ID == claims.UserID {
		token, expiresAt, err := s.signer.Generate(paper.ID, viewer.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to sign download link")
		}
		permission.DownloadURL = fmt.Sprintf("%s/papers/%s/download?token=%s", s.config.PublicBaseURL, paper.ID, url.QueryEscape(token))
		permission.ExpiresAt = &expiresAt
	}
	return permission, nil
}

func (s *PaperService) resolveViewer(ctx context.Context, userID string) (*models.Viewer, error) {
	if userID == "" {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load viewer")
	}
	return &models.Viewer{ID: user.ID, Role: user.Role}, nil
}

// Download opens the paper binary for a signed token or, without one, for the
// authenticated caller when the access policy allows it.
func (s *PaperService) Download(ctx context.Context, paperID, token string, claims *models.JWTClaims) (*models.Paper, io.ReadCloser, error) {
	paper, err := s.Get(ctx, paperID)
	if err != nil {
		return nil, nil, err
	}

	if token != "" {
		tokenPaper, _, _, err := s.signer.Parse(token)
		if err != nil || tokenPaper != paper.ID {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
		}
	} else {
		var viewer *models.Viewer
		if claims != nil {
			viewer = &models.Viewer{ID: claims.UserID, Role: claims.Role}
		}
		decision := EvaluateAccess(paper, viewer)
		if !decision.Allowed {
			if viewer == nil {
				return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, decision.Reason)
			}
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
		}
	}

	rc, err := s.blobs.Open(ctx, paper.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "paper file not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to open paper file")
	}
	return paper, rc, nil
}

func (s *PaperService) checkFile(file *models.FileUpload) error {
	file.Filename = filepath.Base(strings.TrimSpace(file.Filename))
	if len(file.Content) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if int64(len(file.Content)) > s.config.MaxUploadBytes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds the %d byte limit", s.config.MaxUploadBytes))
	}
	sniff := file.Content
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	if detected := http.DetectContentType(sniff); detected != pdfMimeType {
		return appErrors.Clone(appErrors.ErrValidation, "only PDF files are accepted")
	}
	if file.Filename == "" || file.Filename == "." || file.Filename == "/" {
		file.Filename = "paper.pdf"
	}
	file.ContentType = pdfMimeType
	file.Size = int64(len(file.Content))
	return nil
}

func (s *PaperService) reindex(kind, paperID string) {
	if s.index == nil {
		return
	}
	if err := s.index.Enqueue(jobs.Task{Kind: kind, Key: paperID}); err != nil {
		s.logger.Warn("failed to enqueue index task", zap.String("kind", kind), zap.String("paper_id", paperID), zap.Error(err))
	}
}

func (s *PaperService) invalidateStats(ctx context.Context) {
	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
}

func applyInput(paper *models.Paper, input models.PaperInput) {
	paper.Title = input.Title
	paper.Description = input.Description
	paper.Journal = input.Journal
	paper.Year = input.Year
	paper.Publisher = input.Publisher
	paper.Authors = models.AuthorList(input.Authors)
	paper.Tags = input.Tags
	paper.SDGs = input.SDGs
}

func isOwnerOrAdmin(paper *models.Paper, claims *models.JWTClaims) bool {
	return claims.Role == models.RoleAdmin || paper.OwnerID == claims.UserID
}

// threadComments nests replies under their top-level parent. Orphaned replies are dropped.
func threadComments(flat []models.Comment) []*models.Comment {
	roots := make([]*models.Comment, 0, len(flat))
	byID := make(map[string]*models.Comment, len(flat))
	for i := range flat {
		c := &flat[i]
		if c.ParentID == nil {
			c.Replies = []*models.Comment{}
			roots = append(roots, c)
			byID[c.ID] = c
		}
	}
	for i := range flat {
		c := &flat[i]
		if c.ParentID == nil {
			continue
		}
		if parent, ok := byID[*c.ParentID]; ok {
			parent.Replies = append(parent.Replies, c)
		}
	}
	return roots
}
