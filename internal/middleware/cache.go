package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilmhub/tcm-api/internal/service"
	"github.com/ilmhub/tcm-api/pkg/jobs"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
)

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

// CacheList serves GET list responses from Redis keyed by the full request
// URL. Only successful responses are stored; misses fall through to the
// handler and populate the cache on the way out.
func CacheList(cache *service.CacheService, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cache.Enabled() || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := "list:" + c.Request.URL.RequestURI()
		var cached cachedResponse
		hit, err := cache.Get(c.Request.Context(), key, &cached)
		if err == nil && hit {
			SetCacheHit(c, true)
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}
		SetCacheHit(c, false)

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		if c.Writer.Status() == http.StatusOK {
			_ = cache.Set(c.Request.Context(), key, cachedResponse{
				Status:      c.Writer.Status(),
				ContentType: c.Writer.Header().Get("Content-Type"),
				Body:        writer.buf.Bytes(),
			}, ttl)
		}
	}
}

// CacheInvalidation enqueues an async flush of the cached list responses
// after every successful mutating request. Lifecycle cascades touch several
// resources at once, so the whole list namespace goes rather than guessing
// which lists a mutation reached.
func CacheInvalidation(queue *jobs.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if queue == nil || c.Request.Method == http.MethodGet {
			return
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		_ = queue.Enqueue(jobs.Job{
			Type:    "cache-invalidation",
			Payload: "list:*",
		})
	}
}

// WithResponseMeta initialises response metadata storage on the request context.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
		duration := time.Since(start)
		meta := ensureMeta(c)
		if _, exists := meta["processing_time_ms"]; !exists {
			meta["processing_time_ms"] = duration.Milliseconds()
		}
	}
}

// SetCacheHit records cache hit information for the current response.
func SetCacheHit(c *gin.Context, hit bool) {
	meta := ensureMeta(c)
	meta[cacheHitKey] = hit
}

// ExtractMeta returns the metadata map stored on the context.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	return nil
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return map[string]interface{}{}
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	newMeta := make(map[string]interface{})
	c.Set(responseMetaKey, newMeta)
	return newMeta
}
