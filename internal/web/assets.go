package web

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"

	"goauthentik.io/router/internal/config"
	"goauthentik.io/router/internal/constants"
)

//go:embed robots.txt
var robotsTxt []byte

//go:embed security.txt
var securityTxt []byte

func serveDir(root string) gin.HandlerFunc {
	fs := http.Dir(root)
	return func(c *gin.Context) {
		c.FileFromFS(c.Param("filepath"), fs)
	}
}

// staticHeaders marks asset responses cacheable and version-keyed.
func staticHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, no-transform")
		c.Header("X-authentik-version", constants.Version)
		c.Header("Vary", "X-authentik-version, Etag")
		c.Next()
	}
}

// registerAssets wires the static file routes: the built web UI, per-interface
// asset aliases (patternfly fonts are imported with relative paths), media
// files when the media backend is file-based, and the help site.
func registerAssets(r *gin.Engine, cfg *config.Settings) {
	assets := r.Group("/", staticHeaders())

	assets.Static("/static/authentik", "./web/authentik")
	assets.Static("/static/dist", "./web/dist")

	// gin's Static helper rejects parameterized prefixes, so the
	// per-interface aliases serve the dist assets through FileFromFS.
	distAssets := serveDir("./web/dist/assets")
	for _, prefix := range []string{
		"/if/flow/:flow_slug/assets",
		"/if/admin/assets",
		"/if/user/assets",
		"/if/rac/:app_slug/assets",
	} {
		assets.GET(prefix+"/*filepath", distAssets)
		assets.HEAD(prefix+"/*filepath", distAssets)
	}

	if cfg.Storage.Media.Backend == "file" {
		assets.Static("/media", cfg.Storage.Media.File.Path)
	}

	assets.Static("/if/help", "./website/help")
	assets.GET("/help", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/if/help/")
	})

	assets.GET("/robots.txt", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain", robotsTxt)
	})
	assets.GET("/.well-known/security.txt", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain", securityTxt)
	})
}
