// Package server publishes the generated files over HTTP.
package server

import (
	"compress/gzip"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Files names the artifacts a download run leaves in Dir.
type Files struct {
	Dir    string
	Status string
	Page   string
	CSV    []string
}

// NewRouter returns a gin engine serving:
//
//	GET /healthz      liveness
//	GET /status       the status JSON
//	GET /data/:file   one of the known artifacts
//	GET /             the status page
func NewRouter(files Files, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := map[string]string{}
	for _, name := range files.CSV {
		allowed[name] = "text/csv; charset=utf-8"
	}
	if files.Status != "" {
		allowed[files.Status] = "application/json; charset=utf-8"
	}
	if files.Page != "" {
		allowed[files.Page] = "text/html; charset=utf-8"
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors(), gzipResponses())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/status", func(c *gin.Context) {
		serveFile(c, files.Dir, files.Status, allowed[files.Status])
	})
	r.GET("/data/:file", func(c *gin.Context) {
		name := c.Param("file")
		contentType, ok := allowed[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown file"})
			return
		}
		serveFile(c, files.Dir, name, contentType)
	})
	r.GET("/", func(c *gin.Context) {
		if files.Page == "" {
			c.Redirect(http.StatusFound, "/status")
			return
		}
		serveFile(c, files.Dir, files.Page, allowed[files.Page])
	})
	return r
}

func serveFile(c *gin.Context, dir, name, contentType string) {
	if name == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not configured"})
		return
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": name + " has not been generated yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, contentType, b)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// gzipResponses compresses responses when the client supports gzip.
func gzipResponses() gin.HandlerFunc {
	pool := sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}
		gz := pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			pool.Put(gz)
		}()
		c.Header("Content-Encoding", "gzip")
		c.Writer.Header().Add("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, gz: gz}
		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) {
	return g.gz.Write(b)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.gz.Write([]byte(s))
}
