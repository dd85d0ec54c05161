package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/infoset/collector/internal/cache"
	"github.com/infoset/collector/internal/config"
	"github.com/infoset/collector/internal/models"
	"github.com/infoset/collector/internal/parsers"
	"github.com/infoset/collector/internal/store"
	"github.com/infoset/collector/internal/validation"
)

// ReceiveHandler accepts agent uploads and lands them in the cache
// directory. It never writes to the database directly; the ingest
// scheduler is the only consumer of cache files.
type ReceiveHandler struct {
	cfg       *config.Config
	validator *cache.Validator
	deduper   *validation.Deduper
}

func NewReceiveHandler(cfg *config.Config, gateway store.Gateway, deduper *validation.Deduper) *ReceiveHandler {
	return &ReceiveHandler{
		cfg:       cfg,
		validator: cache.NewValidator(gateway, cfg.StepSeconds),
		deduper:   deduper,
	}
}

// Receive handles POST /receive/:uid with an ingest document body.
func (h *ReceiveHandler) Receive(c *gin.Context) {
	requestID := uuid.NewString()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	ctx := c.Request.Context()
	doc, result := h.validator.Validate(ctx, body)
	if !result.OK {
		if result.Duplicate {
			// At-least-once delivery: acknowledge so the agent stops
			// retrying, but write nothing.
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "request_id": requestID})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "invalid ingest document",
			"reasons":    result.Reasons,
			"request_id": requestID,
		})
		return
	}

	if doc.UID != c.Param("uid") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "uid in document does not match uid in URL",
			"request_id": requestID,
		})
		return
	}
	if !uidRegex.MatchString(doc.UID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "uid must be a lowercase hex string",
			"request_id": requestID,
		})
		return
	}

	if h.deduper.Seen(ctx, doc.UID, int64(doc.Timestamp)) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "request_id": requestID})
		return
	}

	if err := h.writeCacheFile(doc, body); err != nil {
		log.Printf("[ERROR] Failed to write cache file for uid %s: %v", doc.UID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "failed to store upload",
			"request_id": requestID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestID})
}

// ReceivePrometheus handles POST /prometheus/:uid with a Prometheus text
// exposition body. The exposition is converted to an ingest document and
// follows the same cache-file path as native uploads.
func (h *ReceiveHandler) ReceivePrometheus(c *gin.Context) {
	requestID := uuid.NewString()
	uid := c.Param("uid")
	if !uidRegex.MatchString(uid) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "uid must be a lowercase hex string",
			"request_id": requestID,
		})
		return
	}
	hostname := c.Query("hostname")
	if hostname == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "hostname query parameter is required",
			"request_id": requestID,
		})
		return
	}

	timestamp := normalizeTimestamp(nowUnix(), h.cfg.StepSeconds)
	doc, err := parsers.ParsePrometheusText(c.Request.Body, uid, hostname, timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "invalid Prometheus exposition",
			"detail":     err.Error(),
			"request_id": requestID,
		})
		return
	}

	if h.deduper.Seen(c.Request.Context(), uid, timestamp) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "request_id": requestID})
		return
	}

	body, err := json.Marshal(doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "failed to encode document",
			"request_id": requestID,
		})
		return
	}

	if err := h.writeCacheFile(doc, body); err != nil {
		log.Printf("[ERROR] Failed to write cache file for uid %s: %v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "failed to store upload",
			"request_id": requestID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestID})
}

// writeCacheFile lands the raw document bytes in the cache directory
// under the canonical <timestamp>_<uid>_<hosthash>.json name. The write
// goes through a temp file and rename so the scheduler never reads a
// half-written upload.
func (h *ReceiveHandler) writeCacheFile(doc *models.Document, body []byte) error {
	if err := os.MkdirAll(h.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	filename := fmt.Sprintf("%d_%s_%s.json", int64(doc.Timestamp), doc.UID, HostHash(doc.Hostname))
	path := filepath.Join(h.cfg.CacheDir, filename)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish cache file: %w", err)
	}
	return nil
}

// HostHash is the filename-disambiguation hash of a hostname. It is not
// identity; the uid is.
func HostHash(hostname string) string {
	sum := sha256.Sum256([]byte(hostname))
	return hex.EncodeToString(sum[:8])
}

func normalizeTimestamp(timestamp, step int64) int64 {
	if step <= 0 {
		return timestamp
	}
	return (timestamp / step) * step
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// Cache filenames embed the uid, so only lowercase hex uids can land.
var uidRegex = regexp.MustCompile(`^[0-9a-f]+$`)
