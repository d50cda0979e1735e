package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/handler"
	"github.com/noah-isme/paper-repository-api/internal/middleware"
	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/pkg/config"
	"github.com/noah-isme/paper-repository-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/paper-repository-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/paper-repository-api/pkg/middleware/requestid"
)

const auditActionIndexRebuild = "SEARCH_INDEX_REBUILD"

type routeHandlers struct {
	auth     *handler.AuthHandler
	users    *handler.UserHandler
	papers   *handler.PaperHandler
	requests *handler.PaperRequestHandler
	stats    *handler.StatsHandler
	search   *handler.SearchHandler
	metrics  *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, tokens middleware.TokenValidator, observer middleware.RequestObserver, audit middleware.AuditWriter, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins}))
	r.Use(middleware.Metrics(observer))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	r.GET("/metrics/summary", h.metrics.Summary)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authn := middleware.JWT(tokens)
	optional := middleware.OptionalJWT(tokens)
	reviewers := middleware.RequireRoles(models.RoleAdmin, models.RoleModerator)
	admins := middleware.RequireRoles(models.RoleAdmin)

	// Request workflow and permission routes live at the root.
	requests := r.Group("/paper-requests")
	requests.POST("/request", authn, h.requests.Submit)
	requests.GET("/admin/requests", authn, reviewers, h.requests.ListAll)
	requests.GET("/admin/requests/pending", authn, reviewers, h.requests.ListPending)
	requests.PUT("/admin/requests/:id", authn, reviewers, h.requests.Process)
	requests.GET("/user/:userId/requests", authn, middleware.RequireRolesOrSelf("userId", models.RoleAdmin, models.RoleModerator), h.requests.ListByUser)

	registerPaperRoutes(r.Group(""), h, authn, optional)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", h.auth.Register)
	auth.POST("/verify-otp", h.auth.VerifyOTP)
	auth.POST("/resend-otp", h.auth.ResendOTP)
	auth.POST("/login", h.auth.Login)
	auth.GET("/me", authn, h.auth.Me)

	registerPaperRoutes(api, h, authn, optional)
	api.GET("/users/:id/papers", optional, h.papers.ListForUser)

	stats := api.Group("/stats")
	stats.GET("/authors", h.stats.Authors)
	stats.GET("/authors/export", authn, admins, h.stats.Export)

	admin := api.Group("/admin", authn, admins)
	admin.GET("/users", h.users.List)
	admin.GET("/users/pending", h.users.ListPending)
	admin.GET("/users/:id", h.users.Get)
	admin.PUT("/users/:id/status", h.users.UpdateStatus)
	admin.PUT("/users/:id/role", h.users.UpdateRole)
	admin.DELETE("/users/:id", h.users.Delete)
	admin.POST("/search/reindex", middleware.Audit(audit, auditActionIndexRebuild, "search_index", logr), h.search.Reindex)

	return r
}

// registerPaperRoutes mounts the catalog. The root mount only carries the
// permission and download endpoints so that emailed links resolve without
// the API prefix.
func registerPaperRoutes(g *gin.RouterGroup, h routeHandlers, authn, optional gin.HandlerFunc) {
	papers := g.Group("/papers")
	papers.GET("/:id/download-permission", optional, h.papers.DownloadPermission)
	papers.GET("/:id/download", optional, h.papers.Download)
	if g.BasePath() == "/" {
		return
	}

	papers.GET("", optional, h.papers.List)
	papers.POST("", authn, h.papers.Upload)
	papers.GET("/:id", optional, h.papers.Get)
	papers.PUT("/:id", authn, h.papers.Update)
	papers.PUT("/:id/file", authn, h.papers.ReplaceFile)
	papers.DELETE("/:id", authn, h.papers.Delete)
	papers.POST("/:id/like", authn, h.papers.Like)
	papers.POST("/:id/dislike", authn, h.papers.Dislike)
	papers.GET("/:id/comments", h.papers.Comments)
	papers.POST("/:id/comments", authn, h.papers.AddComment)
	papers.DELETE("/:id/comments/:commentId", authn, h.papers.DeleteComment)
}
