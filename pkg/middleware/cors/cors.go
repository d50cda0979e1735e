package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/paper-repository-api/pkg/middleware/requestid"
)

// Options configures the CORS policy of the API.
type Options struct {
	// AllowedOrigins lists browser origins that may call the API. Empty allows any origin.
	AllowedOrigins []string
	// MaxAge bounds how long a preflight answer may be cached. Zero means ten minutes.
	MaxAge time.Duration
}

var (
	allowedHeaders = []string{"Authorization", "Content-Type", requestid.Header}
	allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	// Paper downloads and statistics exports name their file in Content-Disposition.
	exposedHeaders = []string{"Content-Disposition", "Content-Length", requestid.Header}
)

// New returns the CORS middleware. Credentials are only allowed for an
// explicitly listed origin; an open policy answers with a wildcard instead.
func New(opts Options) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	preflight := map[string]string{
		"Access-Control-Allow-Headers": strings.Join(allowedHeaders, ", "),
		"Access-Control-Allow-Methods": strings.Join(allowedMethods, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(int(maxAge.Seconds())),
	}
	exposed := strings.Join(exposedHeaders, ", ")

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		origin := strings.TrimRight(c.GetHeader("Origin"), "/")
		switch _, listed := origins[origin]; {
		case origin != "" && listed:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		case len(origins) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		default:
			if origin != "" && c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		h.Set("Access-Control-Expose-Headers", exposed)

		if c.Request.Method == http.MethodOptions {
			for k, v := range preflight {
				h.Set(k, v)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
