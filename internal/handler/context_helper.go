package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/paper-repository-api/internal/middleware"
	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/internal/service"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

func actorFromContext(c *gin.Context, claims *models.JWTClaims) service.ActorMeta {
	actor := service.ActorMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if claims != nil {
		actor.ID = claims.UserID
	}
	return actor
}

func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
