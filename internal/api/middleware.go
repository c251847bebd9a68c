package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nkmrt3/frnchat/internal/utils"
)

// CORS lets the browser UI call the API when it is served from another origin.
func CORS(cfg utils.CORSConfig) gin.HandlerFunc {
	corsCfg := cors.DefaultConfig()
	if cfg.AllowAll() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.ExposeHeaders = []string{"Content-Length"}
	corsCfg.MaxAge = 12 * time.Hour

	return cors.New(corsCfg)
}
