package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paper-repository-api/internal/models"
)

var paperRowColumns = []string{"id", "title", "description", "journal", "year", "publisher", "authors", "tags", "sdgs", "owner_id",
	"file_id", "file_name", "mime_type", "size_bytes", "likes", "dislikes", "created_at", "updated_at"}

func paperRow(rows *sqlmock.Rows, id, title string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, title, "abstract", "Journal of Graphs", 2021, "ACM",
		[]byte(`[{"name":"Ada Lovelace","userId":"user-2"},{"name":"Grace Hopper"}]`), "{graphs,compression}", "{sdg9}", "owner-1",
		"file-1", "paper.pdf", "application/pdf", int64(1024), 3, 1, now, now)
}

func TestPaperRepositoryGetByIDScansAuthors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM papers WHERE id = $1")).
		WithArgs("paper-1").
		WillReturnRows(paperRow(sqlmock.NewRows(paperRowColumns), "paper-1", "Graph Compression"))

	paper, err := repo.GetByID(context.Background(), "paper-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada Lovelace", "Grace Hopper"}, paper.Authors.Names())
	assert.True(t, paper.Authors.Includes("user-2"))
	assert.Equal(t, []string{"graphs", "compression"}, []string(paper.Tags))
	require.NotNil(t, paper.Year)
	assert.Equal(t, 2021, *paper.Year)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryListFiltersAndSort(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	year := 2021
	mock.ExpectQuery(regexp.QuoteMeta("FROM papers WHERE EXISTS (SELECT 1 FROM unnest(tags) t WHERE LOWER(t) = LOWER($1)) AND year = $2 ORDER BY likes DESC, created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("graphs", 2021).
		WillReturnRows(paperRow(sqlmock.NewRows(paperRowColumns), "paper-1", "Graph Compression"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM papers WHERE")).
		WithArgs("graphs", 2021).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	papers, total, err := repo.List(context.Background(), models.PaperFilter{Tag: "graphs", Year: &year, Sort: models.PaperSortLikes, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, papers, 1)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryListMemberAndSearchOrder(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id::text = ANY($1) AND (owner_id::text = $2 OR authors @> jsonb_build_array(jsonb_build_object('userId', $2::text))) ORDER BY array_position($3::text[], id::text)")).
		WillReturnRows(sqlmock.NewRows(paperRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM papers WHERE")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	papers, total, err := repo.List(context.Background(), models.PaperFilter{IDs: []string{"p2", "p1"}, MemberID: "user-2"})
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryListEmptySearchShortCircuits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	papers, total, err := repo.List(context.Background(), models.PaperFilter{IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryVoteToggles(t *testing.T) {
	tests := map[string]struct {
		current   *int
		vote      int
		statement string
		myVote    int
	}{
		"first like inserts":     {current: nil, vote: models.VoteLike, statement: "INSERT INTO paper_votes", myVote: models.VoteLike},
		"same vote clears":       {current: intPtr(models.VoteLike), vote: models.VoteLike, statement: "DELETE FROM paper_votes", myVote: 0},
		"opposite vote switches": {current: intPtr(models.VoteLike), vote: models.VoteDislike, statement: "UPDATE paper_votes SET vote", myVote: models.VoteDislike},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			db, mock, cleanup := newMock(t)
			defer cleanup()
			repo := NewPaperRepository(db)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM papers WHERE id = $1 FOR UPDATE")).
				WithArgs("paper-1").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("paper-1"))
			voteRows := sqlmock.NewRows([]string{"vote"})
			if tc.current != nil {
				voteRows.AddRow(*tc.current)
			}
			mock.ExpectQuery(regexp.QuoteMeta("SELECT vote FROM paper_votes")).WillReturnRows(voteRows)
			mock.ExpectExec(regexp.QuoteMeta(tc.statement)).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery(regexp.QuoteMeta("RETURNING likes, dislikes")).
				WillReturnRows(sqlmock.NewRows([]string{"likes", "dislikes"}).AddRow(4, 2))
			mock.ExpectCommit()

			result, err := repo.Vote(context.Background(), "paper-1", "user-1", tc.vote)
			require.NoError(t, err)
			assert.Equal(t, tc.myVote, result.MyVote)
			assert.Equal(t, 4, result.Likes)
			assert.Equal(t, 2, result.Dislikes)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPaperRepositoryVoteMissingPaper(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Vote(context.Background(), "missing", "user-1", models.VoteLike)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryAuthorStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	rows := sqlmock.NewRows([]string{"author", "papers", "likes", "dislikes", "latest_year"}).
		AddRow("Ada Lovelace", 2, 7, 1, 2022).
		AddRow("Grace Hopper", 1, 0, 0, nil)
	mock.ExpectQuery(regexp.QuoteMeta("jsonb_array_elements(p.authors)")).WillReturnRows(rows)

	stats, err := repo.AuthorStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 2022, *stats[0].LatestYear)
	assert.Nil(t, stats[1].LatestYear)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryDeleteCommentMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM paper_comments")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.DeleteComment(context.Background(), "c-1")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func intPtr(v int) *int { return &v }

func TestPaperRepositoryMalformedID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPaperRepository(db)
	invalid := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	mock.ExpectQuery(regexp.QuoteMeta("FROM papers WHERE id = $1")).
		WithArgs("abc").
		WillReturnError(invalid)
	_, err := repo.GetByID(context.Background(), "abc")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM papers WHERE id = $1")).
		WithArgs("abc").
		WillReturnError(invalid)
	assert.True(t, errors.Is(repo.Delete(context.Background(), "abc"), sql.ErrNoRows))

	mock.ExpectQuery(regexp.QuoteMeta("FROM paper_comments WHERE id = $1")).
		WithArgs("abc").
		WillReturnError(invalid)
	_, err = repo.GetComment(context.Background(), "abc")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}
