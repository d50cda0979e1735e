package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/jobs"
	"github.com/noah-isme/paper-repository-api/pkg/storage"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF")

const coauthorID = "7b0c2f7e-1d2a-4c4e-9a51-3f1f0d9c2b10"

type paperStoreStub struct {
	papers   map[string]*models.Paper
	votes    map[string]int
	comments map[string]*models.Comment
	lastList models.PaperFilter
	seq      int
}

func newPaperStoreStub() *paperStoreStub {
	return &paperStoreStub{papers: map[string]*models.Paper{}, votes: map[string]int{}, comments: map[string]*models.Comment{}}
}

func (s *paperStoreStub) nextID(prefix string) string {
	s.seq++
	return prefix + strings.Repeat("0", 3) + string(rune('a'+s.seq))
}

func (s *paperStoreStub) Create(ctx context.Context, paper *models.Paper) error {
	paper.ID = s.nextID("paper")
	copied := *paper
	s.papers[paper.ID] = &copied
	return nil
}

func (s *paperStoreStub) GetByID(ctx context.Context, id string) (*models.Paper, error) {
	p, ok := s.papers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (s *paperStoreStub) UpdateMetadata(ctx context.Context, paper *models.Paper) error {
	if _, ok := s.papers[paper.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *paper
	s.papers[paper.ID] = &copied
	return nil
}

func (s *paperStoreStub) ReplaceFile(ctx context.Context, id, fileID, fileName, mimeType string, size int64) error {
	p, ok := s.papers[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.FileID, p.FileName, p.MimeType, p.SizeBytes = fileID, fileName, mimeType, size
	return nil
}

func (s *paperStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.papers[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.papers, id)
	return nil
}

func (s *paperStoreStub) List(ctx context.Context, filter models.PaperFilter) ([]models.Paper, int, error) {
	s.lastList = filter
	var out []models.Paper
	if filter.IDs != nil {
		for _, id := range filter.IDs {
			if p, ok := s.papers[id]; ok {
				out = append(out, *p)
			}
		}
		return out, len(out), nil
	}
	for _, p := range s.papers {
		if filter.MemberID != "" && p.OwnerID != filter.MemberID && !p.Authors.Includes(filter.MemberID) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *paperStoreStub) Vote(ctx context.Context, paperID, userID string, vote int) (*models.VoteResult, error) {
	p, ok := s.papers[paperID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	key := paperID + "|" + userID
	if s.votes[key] == vote {
		delete(s.votes, key)
	} else {
		s.votes[key] = vote
	}
	p.Likes, p.Dislikes = 0, 0
	for k, v := range s.votes {
		if strings.HasPrefix(k, paperID+"|") {
			if v == models.VoteLike {
				p.Likes++
			} else {
				p.Dislikes++
			}
		}
	}
	return &models.VoteResult{PaperID: paperID, Likes: p.Likes, Dislikes: p.Dislikes, MyVote: s.votes[key]}, nil
}

func (s *paperStoreStub) GetVote(ctx context.Context, paperID, userID string) (int, error) {
	return s.votes[paperID+"|"+userID], nil
}

func (s *paperStoreStub) ListComments(ctx context.Context, paperID string) ([]models.Comment, error) {
	var out []models.Comment
	for _, c := range s.comments {
		if c.PaperID == paperID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *paperStoreStub) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	c, ok := s.comments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (s *paperStoreStub) CreateComment(ctx context.Context, comment *models.Comment) error {
	s.seq++
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Date(2024, 1, 1, 0, 0, s.seq, 0, time.UTC)
	copied := *comment
	s.comments[comment.ID] = &copied
	return nil
}

func (s *paperStoreStub) DeleteComment(ctx context.Context, id string) error {
	if _, ok := s.comments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.comments, id)
	for cid, c := range s.comments {
		if c.ParentID != nil && *c.ParentID == id {
			delete(s.comments, cid)
		}
	}
	return nil
}

type searcherStub struct {
	ids   []string
	query string
}

func (s *searcherStub) Search(ctx context.Context, text string) ([]string, error) {
	s.query = text
	return s.ids, nil
}

type statsInvalidatorStub struct {
	calls int
}

func (s *statsInvalidatorStub) Invalidate(ctx context.Context) {
	s.calls++
}

type paperFixture struct {
	svc      *PaperService
	repo     *paperStoreStub
	blobs    *storage.LocalStorage
	index    *enqueueStub
	searcher *searcherStub
	stats    *statsInvalidatorStub
	audit    *auditStub
}

func newPaperFixture(t *testing.T) *paperFixture {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &paperFixture{
		repo:     newPaperStoreStub(),
		blobs:    blobs,
		index:    &enqueueStub{},
		searcher: &searcherStub{},
		stats:    &statsInvalidatorStub{},
		audit:    &auditStub{},
	}
	users := &userReaderStub{users: map[string]*models.User{
		"owner":    {ID: "owner", Role: models.RoleUser},
		coauthorID: {ID: coauthorID, Role: models.RoleUser},
		"reader":   {ID: "reader", Role: models.RoleUser},
		"admin":    {ID: "admin", Role: models.RoleAdmin},
	}}
	f.svc = NewPaperService(f.repo, blobs, f.index, f.searcher, storage.NewSignedURLSigner("secret", time.Minute),
		users, f.audit, f.stats, nil, nil, PaperConfig{MaxUploadBytes: 1024, PublicBaseURL: "https://papers.example.com/"})
	return f
}

func claimsFor(id string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: role, FullName: strings.ToUpper(id)}
}

func (f *paperFixture) upload(t *testing.T, owner string, input models.PaperInput) *models.Paper {
	t.Helper()
	paper, err := f.svc.Upload(context.Background(), input, models.FileUpload{Filename: "paper.pdf", Content: samplePDF}, claimsFor(owner, models.RoleUser))
	require.NoError(t, err)
	return paper
}

func TestPaperServiceUpload(t *testing.T) {
	f := newPaperFixture(t)
	coauthor := coauthorID

	paper := f.upload(t, "owner", models.PaperInput{
		Title:   "  Graph Compression ",
		Authors: []models.Author{{Name: "Ada"}, {Name: " ", UserID: &coauthor}, {Name: "Co Author", UserID: &coauthor}},
		Tags:    []string{"graphs", "Graphs", " "},
	})
	assert.Equal(t, "Graph Compression", paper.Title)
	assert.Equal(t, "owner", paper.OwnerID)
	assert.Equal(t, []string{"Ada", "Co Author"}, paper.Authors.Names())
	assert.Equal(t, []string{"graphs"}, []string(paper.Tags))
	assert.Equal(t, "application/pdf", paper.MimeType)
	assert.Equal(t, int64(len(samplePDF)), paper.SizeBytes)

	data, err := storage.ReadAll(context.Background(), f.blobs, paper.FileID)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, data)

	require.Len(t, f.index.tasks, 1)
	assert.Equal(t, jobs.Task{Kind: jobs.KindIndex, Key: paper.ID}, f.index.tasks[0])
	assert.Equal(t, 1, f.stats.calls)
}

func TestPaperServiceUploadRejectsBadFiles(t *testing.T) {
	f := newPaperFixture(t)
	input := models.PaperInput{Title: "Doc"}
	claims := claimsFor("owner", models.RoleUser)

	cases := map[string][]byte{
		"empty":     nil,
		"not a pdf": []byte("hello world, plain text"),
		"too large": append(append([]byte{}, samplePDF...), make([]byte, 2048)...),
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Upload(context.Background(), input, models.FileUpload{Filename: "x.pdf", Content: content}, claims)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))
		})
	}
	assert.Empty(t, f.repo.papers)

	_, err := f.svc.Upload(context.Background(), models.PaperInput{Title: " "}, models.FileUpload{Filename: "x.pdf", Content: samplePDF}, claims)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestPaperServiceUpdatePermissions(t *testing.T) {
	f := newPaperFixture(t)
	coauthor := coauthorID
	paper := f.upload(t, "owner", models.PaperInput{Title: "Draft", Authors: []models.Author{{Name: "Co", UserID: &coauthor}}})
	ctx := context.Background()

	updated, err := f.svc.Update(ctx, paper.ID, models.PaperInput{Title: "By coauthor", Authors: []models.Author{{Name: "Co", UserID: &coauthor}}}, claimsFor(coauthorID, models.RoleUser))
	require.NoError(t, err)
	assert.Equal(t, "By coauthor", updated.Title)

	_, err = f.svc.Update(ctx, paper.ID, models.PaperInput{Title: "Hijack"}, claimsFor("reader", models.RoleUser))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Update(ctx, paper.ID, models.PaperInput{Title: "By admin"}, claimsFor("admin", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "By admin", f.repo.papers[paper.ID].Title)

	_, err = f.svc.Update(ctx, "missing", models.PaperInput{Title: "x"}, claimsFor("admin", models.RoleAdmin))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestPaperServiceReplaceFile(t *testing.T) {
	f := newPaperFixture(t)
	paper := f.upload(t, "owner", models.PaperInput{Title: "Doc"})
	ctx := context.Background()
	newContent := append(append([]byte{}, samplePDF...), []byte("\n% v2")...)

	_, err := f.svc.ReplaceFile(ctx, paper.ID, models.FileUpload{Filename: "v2.pdf", Content: newContent}, claimsFor("reader", models.RoleUser))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	updated, err := f.svc.ReplaceFile(ctx, paper.ID, models.FileUpload{Filename: "../v2.pdf", Content: newContent}, claimsFor("owner", models.RoleUser))
	require.NoError(t, err)
	assert.Equal(t, "v2.pdf", updated.FileName)
	assert.NotEqual(t, paper.FileID, updated.FileID)

	_, err = f.blobs.Open(ctx, paper.FileID)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	data, err := storage.ReadAll(ctx, f.blobs, updated.FileID)
	require.NoError(t, err)
	assert.Equal(t, newContent, data)
}

func TestPaperServiceDelete(t *testing.T) {
	f := newPaperFixture(t)
	paper := f.upload(t, "owner", models.PaperInput{Title: "Doc"})
	ctx := context.Background()

	err := f.svc.Delete(ctx, paper.ID, claimsFor("reader", models.RoleUser), ActorMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, f.svc.Delete(ctx, paper.ID, claimsFor("admin", models.RoleAdmin), ActorMeta{IP: "10.0.0.1"}))
	assert.Empty(t, f.repo.papers)
	_, err = f.blobs.Open(ctx, paper.FileID)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	assert.Equal(t, jobs.Task{Kind: jobs.KindDelete, Key: paper.ID}, f.index.tasks[len(f.index.tasks)-1])
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionPaperDelete, f.audit.logs[0].Action)
}

func TestPaperServiceListUsesSearchOrder(t *testing.T) {
	f := newPaperFixture(t)
	first := f.upload(t, "owner", models.PaperInput{Title: "One"})
	second := f.upload(t, "owner", models.PaperInput{Title: "Two"})
	f.searcher.ids = []string{second.ID, first.ID}

	papers, pagination, err := f.svc.List(context.Background(), models.PaperFilter{Query: " two one ", Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, "two one", f.searcher.query)
	require.Len(t, papers, 2)
	assert.Equal(t, second.ID, papers[0].ID)
	assert.Equal(t, &models.Pagination{Page: 2, PageSize: 5, TotalCount: 2}, pagination)

	f.searcher.ids = []string{}
	papers, _, err = f.svc.List(context.Background(), models.PaperFilter{Query: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.NotNil(t, f.repo.lastList.IDs)
}

func TestPaperServiceListForUser(t *testing.T) {
	f := newPaperFixture(t)
	coauthor := coauthorID
	f.upload(t, "owner", models.PaperInput{Title: "Mine"})
	f.upload(t, "reader", models.PaperInput{Title: "Shared", Authors: []models.Author{{Name: "Co", UserID: &coauthor}}})
	f.upload(t, "reader", models.PaperInput{Title: "Other"})

	papers, _, err := f.svc.ListForUser(context.Background(), coauthorID, models.PaperFilter{})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "Shared", papers[0].Title)
	assert.Equal(t, coauthorID, f.repo.lastList.MemberID)
}

func TestPaperServiceVoteToggle(t *testing.T) {
	f := newPaperFixture(t)
	paper := f.upload(t, "owner", models.PaperInput{Title: "Doc"})
	ctx := context.Background()
	reader := claimsFor("reader", models.RoleUser)

	res, err := f.svc.Vote(ctx, paper.ID, models.VoteLike, reader)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Likes)
	assert.Equal(t, models.VoteLike, res.MyVote)

	res, err = f.svc.Vote(ctx, paper.ID, models.VoteDislike, reader)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Likes)
	assert.Equal(t, 1, res.Dislikes)

	res, err = f.svc.Vote(ctx, paper.ID, models.VoteDislike, reader)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Dislikes)
	assert.Equal(t, 0, res.MyVote)

	_, err = f.svc.Vote(ctx, "missing", models.VoteLike, reader)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.svc.Vote(ctx, paper.ID, 2, reader)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestPaperServiceCommentThreading(t *testing.T) {
	f := newPaperFixture(t)
	paper := f.upload(t, "owner", models.PaperInput{Title: "Doc"})
	other := f.upload(t, "owner", models.PaperInput{Title: "Other"})
	ctx := context.Background()
	reader := claimsFor("reader", models.RoleUser)

	root, err := f.svc.AddComment(ctx, paper.ID, models.CreateCommentRequest{Body: " great work "}, reader)
	require.NoError(t, err)
	assert.Equal(t, "great work", root.Body)
	assert.Equal(t, "READER", root.AuthorName)

	reply, err := f.svc.AddComment(ctx, paper.ID, models.CreateCommentRequest{Body: "thanks", ParentID: &root.ID}, claimsFor("owner", models.RoleUser))
	require.NoError(t, err)

	_, err = f.svc.AddComment(ctx, paper.ID, models.CreateCommentRequest{Body: "nested", ParentID: &reply.ID}, reader)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.AddComment(ctx, other.ID, models.CreateCommentRequest{Body: "wrong paper", ParentID: &root.ID}, reader)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	thread, err := f.svc.Comments(ctx, paper.ID)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	require.Len(t, thread[0].Replies, 1)
	assert.Equal(t, reply.ID, thread[0].Replies[0].ID)

	err = f.svc.DeleteComment(ctx, paper.ID, root.ID, claimsFor("owner", models.RoleUser))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	require.NoError(t, f.svc.DeleteComment(ctx, paper.ID, root.ID, reader))

	thread, err = f.svc.Comments(ctx, paper.ID)
	require.NoError(t, err)
	assert.Empty(t, thread)
}

func TestPaperServiceDownloadPermission(t *testing.T) {
	f := newPaperFixture(t)
	paper := f.upload(t, "owner", models.PaperInput{Title: "Graph Compression"})
	ctx := context.Background()

	perm, err := f.svc.DownloadPermission(ctx, paper.ID, "", nil)
	require.NoError(t, err)
	assert.False(t, perm.CanDownload)
	assert.Equal(t, models.AccessReasonSignIn, perm.Reason)
	assert.Equal(t, "Graph Compression", perm.PaperTitle)

	perm, err = f.svc.DownloadPermission(ctx, paper.ID, "ghost", nil)
	require.NoError(t, err)
	assert.Equal(t, models.AccessReasonSignIn, perm.Reason)

	perm, err = f.svc.DownloadPermission(ctx, paper.ID, "reader", claimsFor("reader", models.RoleUser))
	require.NoError(t, err)
	assert.False(t, perm.CanDownload)
	assert.Equal(t, models.AccessReasonRequest, perm.Reason)
	assert.Empty(t, perm.DownloadURL)

	perm, err = f.svc.DownloadPermission(ctx, paper.ID, "admin", nil)
	require.NoError(t, err)
	assert.True(t, perm.CanDownload)
	assert.Equal(t, models.AccessReasonAdmin, perm.Reason)
	assert.Empty(t, perm.DownloadURL)

	perm, err = f.svc.DownloadPermission(ctx, paper.ID, "", claimsFor("owner", models.RoleUser))
	require.NoError(t, err)
	assert.True(t, perm.CanDownload)
	assert.Equal(t, models.AccessReasonOwner, perm.Reason)
	assert.True(t, strings.HasPrefix(perm.DownloadURL, "https://papers.example.com/papers/"+paper.ID+"/download?token="))
	require.NotNil(t, perm.ExpiresAt)

	_, err = f.svc.DownloadPermission(ctx, "missing", "", nil)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestPaperServiceDownload(t *testing.T) {
	f := newPaperFixture(t)
	paper := f.upload(t, "owner", models.PaperInput{Title: "Doc"})
	ctx := context.Background()

	_, _, err := f.svc.Download(ctx, paper.ID, "", nil)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, _, err = f.svc.Download(ctx, paper.ID, "", claimsFor("reader", models.RoleUser))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, _, err = f.svc.Download(ctx, paper.ID, "forged.token.1.sig", nil)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	perm, err := f.svc.DownloadPermission(ctx, paper.ID, "", claimsFor("owner", models.RoleUser))
	require.NoError(t, err)
	token := perm.DownloadURL[strings.Index(perm.DownloadURL, "token=")+len("token="):]

	got, rc, err := f.svc.Download(ctx, paper.ID, token, nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, data)
	assert.Equal(t, paper.ID, got.ID)
}
