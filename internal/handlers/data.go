package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/infoset/collector/internal/series"
	"github.com/infoset/collector/internal/store"
)

// DataHandler serves chartable values for one datapoint. Raw counters
// are converted to per-interval deltas on the way out.
type DataHandler struct {
	reader *series.Reader
	logger *slog.Logger
}

func NewDataHandler(gateway store.Gateway, step int64, logger *slog.Logger) *DataHandler {
	return &DataHandler{
		reader: series.NewReader(gateway, step),
		logger: logger,
	}
}

type dataPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Data handles GET /data/:idx?start=&stop= (unix seconds, inclusive).
func (h *DataHandler) Data(c *gin.Context) {
	idx, err := strconv.ParseInt(c.Param("idx"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be an integer"})
		return
	}
	start, err := strconv.ParseInt(c.Query("start"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be a unix timestamp"})
		return
	}
	stop, err := strconv.ParseInt(c.Query("stop"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stop must be a unix timestamp"})
		return
	}
	if start > stop {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must not exceed stop"})
		return
	}

	values, err := h.reader.Range(c.Request.Context(), idx, start, stop)
	if err != nil {
		h.logger.Error("Failed to read datapoint series",
			"idx_datapoint", idx, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "datapoint not found"})
		return
	}

	points := make([]dataPoint, 0, len(values))
	for timestamp, value := range values {
		points = append(points, dataPoint{Timestamp: timestamp, Value: value})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})

	c.JSON(http.StatusOK, gin.H{
		"idx_datapoint": idx,
		"data":          points,
	})
}
