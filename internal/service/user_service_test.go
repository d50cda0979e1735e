package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/jobs"
)

type mockUserRepo struct {
	users     map[string]*models.User
	lastList  models.UserFilter
	listCount int
	deleted   []string
	auditLogs []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.lastList = filter
	var users []models.User
	for _, u := range m.users {
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		users = append(users, *u)
	}
	return users, m.listCount, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (m *mockUserRepo) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	m.users[id].Status = status
	return nil
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.users[id].Role = role
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type ownedPapersStub struct {
	papers []models.Paper
}

func (o *ownedPapersStub) ListByOwner(ctx context.Context, ownerID string) ([]models.Paper, error) {
	var out []models.Paper
	for _, p := range o.papers {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

type blobDeleterStub struct {
	deleted []string
	err     error
}

func (b *blobDeleterStub) Delete(ctx context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return b.err
}

type enqueueStub struct {
	tasks []jobs.Task
}

func (e *enqueueStub) Enqueue(task jobs.Task) error {
	e.tasks = append(e.tasks, task)
	return nil
}

type accountNotifierStub struct {
	statuses []models.UserStatus
	err      error
}

func (a *accountNotifierStub) SendAccountStatus(ctx context.Context, to, name string, status models.UserStatus) error {
	a.statuses = append(a.statuses, status)
	return a.err
}

type userFixture struct {
	svc      *UserService
	repo     *mockUserRepo
	blobs    *blobDeleterStub
	index    *enqueueStub
	notifier *accountNotifierStub
}

func newUserFixture() *userFixture {
	f := &userFixture{
		repo: &mockUserRepo{users: map[string]*models.User{
			"admin": {ID: "admin", Email: "admin@example.com", Role: models.RoleAdmin, Status: models.UserStatusApproved},
			"u1":    {ID: "u1", Email: "u1@example.com", FullName: "Uno", Role: models.RoleUser, Status: models.UserStatusPending},
		}},
		blobs:    &blobDeleterStub{},
		index:    &enqueueStub{},
		notifier: &accountNotifierStub{},
	}
	papers := &ownedPapersStub{papers: []models.Paper{
		{ID: "p1", OwnerID: "u1", FileID: "blob-1"},
		{ID: "p2", OwnerID: "u1", FileID: "blob-2"},
		{ID: "p3", OwnerID: "admin", FileID: "blob-3"},
	}}
	f.svc = NewUserService(f.repo, papers, f.blobs, f.index, f.notifier, validator.New(), zap.NewNop())
	return f
}

var adminActor = ActorMeta{ID: "admin", IP: "127.0.0.1", UserAgent: "test"}

func TestUserServiceListPagination(t *testing.T) {
	f := newUserFixture()
	f.repo.listCount = 42

	users, pagination, err := f.svc.List(context.Background(), models.UserFilter{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 42}, pagination)
}

func TestUserServiceListPending(t *testing.T) {
	f := newUserFixture()

	users, _, err := f.svc.ListPending(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	require.NotNil(t, f.repo.lastList.Status)
	assert.Equal(t, models.UserStatusPending, *f.repo.lastList.Status)
}

func TestUserServiceApproveNotifiesUser(t *testing.T) {
	f := newUserFixture()

	user, err := f.svc.UpdateStatus(context.Background(), "u1", models.UpdateUserStatusRequest{Status: models.UserStatusApproved}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusApproved, user.Status)
	assert.Equal(t, models.UserStatusApproved, f.repo.users["u1"].Status)
	assert.Equal(t, []models.UserStatus{models.UserStatusApproved}, f.notifier.statuses)
	require.Len(t, f.repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserStatusChange, f.repo.auditLogs[0].Action)
	assert.JSONEq(t, `{"status":"pending"}`, string(f.repo.auditLogs[0].OldValues))
}

func TestUserServiceStatusMailFailureIsNotFatal(t *testing.T) {
	f := newUserFixture()
	f.notifier.err = errors.New("smtp down")

	user, err := f.svc.UpdateStatus(context.Background(), "u1", models.UpdateUserStatusRequest{Status: models.UserStatusRejected}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusRejected, user.Status)
}

func TestUserServiceUpdateStatusValidation(t *testing.T) {
	f := newUserFixture()

	_, err := f.svc.UpdateStatus(context.Background(), "u1", models.UpdateUserStatusRequest{Status: models.UserStatusPending}, adminActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.UpdateStatus(context.Background(), "ghost", models.UpdateUserStatusRequest{Status: models.UserStatusApproved}, adminActor)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestUserServiceUpdateRole(t *testing.T) {
	f := newUserFixture()

	user, err := f.svc.UpdateRole(context.Background(), "u1", models.UpdateUserRoleRequest{Role: models.RoleModerator}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, user.Role)

	_, err = f.svc.UpdateRole(context.Background(), "admin", models.UpdateUserRoleRequest{Role: models.RoleUser}, adminActor)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.Equal(t, models.RoleAdmin, f.repo.users["admin"].Role)
}

func TestUserServiceDeleteCleansOwnedPapers(t *testing.T) {
	f := newUserFixture()

	require.NoError(t, f.svc.Delete(context.Background(), "u1", adminActor))
	assert.Equal(t, []string{"u1"}, f.repo.deleted)
	assert.ElementsMatch(t, []string{"blob-1", "blob-2"}, f.blobs.deleted)
	require.Len(t, f.index.tasks, 2)
	for _, task := range f.index.tasks {
		assert.Equal(t, jobs.KindDelete, task.Kind)
	}
	require.Len(t, f.repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDelete, f.repo.auditLogs[0].Action)
}

func TestUserServiceDeleteSelfForbidden(t *testing.T) {
	f := newUserFixture()

	err := f.svc.Delete(context.Background(), "admin", adminActor)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, f.repo.deleted)
}
