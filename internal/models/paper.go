package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Author is one entry of a paper's ordered author list. UserID is set when the
// author is a registered user, which grants co-author edit rights.
type Author struct {
	Name   string  `json:"name" validate:"required,max=200"`
	UserID *string `json:"userId,omitempty" validate:"omitempty,uuid"`
}

// AuthorList is stored as a JSONB array.
type AuthorList []Author

// Value implements driver.Valuer.
func (a AuthorList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *AuthorList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = AuthorList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan author list: unsupported type %T", src)
	}
	var out AuthorList
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan author list: %w", err)
	}
	*a = out
	return nil
}

// Names returns the display names in order.
func (a AuthorList) Names() []string {
	names := make([]string, 0, len(a))
	for _, author := range a {
		names = append(names, author.Name)
	}
	return names
}

// Includes reports whether userID is referenced by a structured author entry.
func (a AuthorList) Includes(userID string) bool {
	if userID == "" {
		return false
	}
	for _, author := range a {
		if author.UserID != nil && *author.UserID == userID {
			return true
		}
	}
	return false
}

// Paper is the catalog metadata of an uploaded document.
type Paper struct {
	ID          string         `db:"id" json:"id"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	Journal     string         `db:"journal" json:"journal"`
	Year        *int           `db:"year" json:"year,omitempty"`
	Publisher   string         `db:"publisher" json:"publisher"`
	Authors     AuthorList     `db:"authors" json:"authors"`
	Tags        pq.StringArray `db:"tags" json:"tags"`
	SDGs        pq.StringArray `db:"sdgs" json:"sdgs"`
	OwnerID     string         `db:"owner_id" json:"ownerId"`
	FileID      string         `db:"file_id" json:"-"`
	FileName    string         `db:"file_name" json:"fileName"`
	MimeType    string         `db:"mime_type" json:"mimeType"`
	SizeBytes   int64          `db:"size_bytes" json:"sizeBytes"`
	Likes       int            `db:"likes" json:"likes"`
	Dislikes    int            `db:"dislikes" json:"dislikes"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// CanEdit reports whether userID may change the paper's metadata.
func (p *Paper) CanEdit(userID string, role UserRole) bool {
	if p == nil || userID == "" {
		return false
	}
	return role == RoleAdmin || p.OwnerID == userID || p.Authors.Includes(userID)
}

// Meta returns the fields carried in notification mail.
func (p *Paper) Meta() PaperMeta {
	return PaperMeta{
		ID:       p.ID,
		Title:    p.Title,
		Authors:  p.Authors.Names(),
		Journal:  p.Journal,
		Year:     p.Year,
		FileName: p.FileName,
		MimeType: p.MimeType,
	}
}

// PaperMeta is the descriptive subset of a paper sent alongside its binary.
type PaperMeta struct {
	ID       string
	Title    string
	Authors  []string
	Journal  string
	Year     *int
	FileName string
	MimeType string
}

// Catalog sort orders.
const (
	PaperSortNewest = "newest"
	PaperSortOldest = "oldest"
	PaperSortTitle  = "title"
	PaperSortYear   = "year"
	PaperSortLikes  = "likes"
)

// PaperFilter constrains catalog listings.
type PaperFilter struct {
	Query string
	// IDs restricts results to the given ids in the given order; set from full-text search.
	IDs      []string
	Tag      string
	SDG      string
	Author   string
	Journal  string
	Year     *int
	OwnerID  string
	MemberID string
	Sort     string
	Page     int
	PageSize int
}

// PaperInput carries editable metadata for create and update.
type PaperInput struct {
	Title       string   `json:"title" validate:"required,max=500"`
	Description string   `json:"description" validate:"max=10000"`
	Journal     string   `json:"journal" validate:"max=300"`
	Year        *int     `json:"year" validate:"omitempty,min=1800,max=2100"`
	Publisher   string   `json:"publisher" validate:"max=300"`
	Authors     []Author `json:"authors" validate:"dive"`
	Tags        []string `json:"tags" validate:"max=30,dive,max=60"`
	SDGs        []string `json:"sdgs" validate:"max=17,dive,max=60"`
}

// Normalize trims strings and drops blank list entries.
func (in *PaperInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Journal = strings.TrimSpace(in.Journal)
	in.Publisher = strings.TrimSpace(in.Publisher)
	in.Tags = cleanList(in.Tags)
	in.SDGs = cleanList(in.SDGs)
	authors := make([]Author, 0, len(in.Authors))
	for _, a := range in.Authors {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			continue
		}
		if a.UserID != nil && strings.TrimSpace(*a.UserID) == "" {
			a.UserID = nil
		}
		authors = append(authors, a)
	}
	in.Authors = authors
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// FileUpload describes an incoming binary.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// Vote values stored in paper_votes.
const (
	VoteLike    = 1
	VoteDislike = -1
)

// VoteResult reports the counters after a vote toggle.
type VoteResult struct {
	PaperID  string `json:"paperId"`
	Likes    int    `json:"likes"`
	Dislikes int    `json:"dislikes"`
	MyVote   int    `json:"myVote"`
}

// Comment is a remark on a paper. Replies only nest one level deep.
type Comment struct {
	ID         string     `db:"id" json:"id"`
	PaperID    string     `db:"paper_id" json:"paperId"`
	UserID     string     `db:"user_id" json:"userId"`
	AuthorName string     `db:"author_name" json:"authorName"`
	Body       string     `db:"body" json:"body"`
	ParentID   *string    `db:"parent_id" json:"parentId,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	Replies    []*Comment `db:"-" json:"replies,omitempty"`
}

// CreateCommentRequest adds a comment or a reply.
type CreateCommentRequest struct {
	Body     string  `json:"body" validate:"required,max=5000"`
	ParentID *string `json:"parentId" validate:"omitempty,uuid"`
}

// AuthorStat aggregates catalog figures for one author name.
type AuthorStat struct {
	Author     string `json:"author"`
	Papers     int    `json:"papers"`
	Likes      int    `json:"likes"`
	Dislikes   int    `json:"dislikes"`
	LatestYear *int   `json:"latestYear,omitempty"`
}
