package service

import "github.com/noah-isme/paper-repository-api/internal/models"

// EvaluateAccess decides whether viewer may download paper directly. Rules are
// checked in order and the first match wins. Co-authors and moderators get no
// bypass; they go through a paper request like any other viewer.
func EvaluateAccess(paper *models.Paper, viewer *models.Viewer) models.AccessDecision {
	switch {
	case viewer == nil || viewer.ID == "":
		return models.AccessDecision{Allowed: false, Reason: models.AccessReasonSignIn}
	case viewer.Role == models.RoleAdmin:
		return models.AccessDecision{Allowed: true, Reason: models.AccessReasonAdmin}
	case paper != nil && paper.OwnerID == viewer.ID:
		return models.AccessDecision{Allowed: true, Reason: models.AccessReasonOwner}
	default:
		return models.AccessDecision{Allowed: false, Reason: models.AccessReasonRequest}
	}
}
