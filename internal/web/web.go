// Package web serves the browser UI bundled into the binary.
package web

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static
var assets embed.FS

// RegisterRoutes mounts the UI at / and its assets under /static.
func RegisterRoutes(router gin.IRouter) error {
	static, err := fs.Sub(assets, "static")
	if err != nil {
		return err
	}

	index, err := fs.ReadFile(static, "index.html")
	if err != nil {
		return err
	}

	router.StaticFS("/static", http.FS(static))
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})

	return nil
}
