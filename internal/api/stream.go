package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stream handles GET /stream: it subscribes to whatever the ingest
// supervisor is currently broadcasting and relays chunks to the response
// as they arrive, exactly as the teacher's StreamHandler.ServeHTTP relayed
// ffmpeg output (internal/radio/stream.go), generalized here to replay the
// subscription's buffered snapshot before any live chunk (§4.1).
func (h *Handlers) Stream(c *gin.Context) {
	sub := h.svc.Subscribe()
	if sub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "no active stream"})
		return
	}
	defer sub.Unsubscribe()

	w := c.Writer
	w.Header().Set("Content-Type", "audio/ogg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := interface{}(w).(http.Flusher)
	clientIP := c.ClientIP()
	slog.Info("stream client connected", "ip", clientIP)
	defer slog.Info("stream client disconnected", "ip", clientIP)

	// Next() blocks on the subscription's channel with no context awareness,
	// so a disconnect is only noticed once the broadcaster next closes or
	// publishes. Unsubscribing here forces an immediate close, unblocking
	// Next() below as soon as the client goes away.
	ctx := c.Request.Context()
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	for {
		chunk, ok := sub.Next()
		if !ok {
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
