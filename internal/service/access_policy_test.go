package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/paper-repository-api/internal/models"
)

func TestEvaluateAccessPrecedence(t *testing.T) {
	coAuthor := "u3"
	paper := &models.Paper{
		ID:      "p1",
		OwnerID: "u1",
		Authors: models.AuthorList{{Name: "Co Author", UserID: &coAuthor}},
	}

	tests := map[string]struct {
		viewer  *models.Viewer
		allowed bool
		reason  string
	}{
		"anonymous":       {viewer: nil, allowed: false, reason: models.AccessReasonSignIn},
		"empty identity":  {viewer: &models.Viewer{}, allowed: false, reason: models.AccessReasonSignIn},
		"owner":           {viewer: &models.Viewer{ID: "u1", Role: models.RoleUser}, allowed: true, reason: models.AccessReasonOwner},
		"admin":           {viewer: &models.Viewer{ID: "a1", Role: models.RoleAdmin}, allowed: true, reason: models.AccessReasonAdmin},
		"admin owner":     {viewer: &models.Viewer{ID: "u1", Role: models.RoleAdmin}, allowed: true, reason: models.AccessReasonAdmin},
		"other user":      {viewer: &models.Viewer{ID: "u2", Role: models.RoleUser}, allowed: false, reason: models.AccessReasonRequest},
		"co-author":       {viewer: &models.Viewer{ID: coAuthor, Role: models.RoleUser}, allowed: false, reason: models.AccessReasonRequest},
		"moderator":       {viewer: &models.Viewer{ID: "m1", Role: models.RoleModerator}, allowed: false, reason: models.AccessReasonRequest},
		"moderator owner": {viewer: &models.Viewer{ID: "u1", Role: models.RoleModerator}, allowed: true, reason: models.AccessReasonOwner},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			decision := EvaluateAccess(paper, tc.viewer)
			assert.Equal(t, tc.allowed, decision.Allowed)
			assert.Equal(t, tc.reason, decision.Reason)
		})
	}
}
