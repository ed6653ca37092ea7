// Package fakeserver is a stand-in for the prediction service used during
// development and in integration tests. Scores are derived from a hash of
// the uploaded bytes, so the same image always gets the same answer.
package fakeserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan/pkg/processing"
	"github.com/menta2k/pulmoscan/pkg/types"
)

// Mode selects the response shape the server answers with
type Mode string

const (
	// ModeTriple answers with explain_original/overlay/heatmap
	ModeTriple Mode = "triple"
	// ModeLegacy answers with a single combined explain_image
	ModeLegacy Mode = "legacy"
	// ModeTopK answers with disease/score/topk_labels/topk_scores/heatmap_b64
	ModeTopK Mode = "topk"
)

// DefaultMaxUploadBytes is the largest upload the server accepts
const DefaultMaxUploadBytes = 10 << 20

// Options configures the fake service
type Options struct {
	Mode           Mode
	Latency        time.Duration
	MaxUploadBytes int64
	Logger         *logrus.Logger
}

// Server serves the prediction HTTP binding
type Server struct {
	opts      Options
	router    *gin.Engine
	server    *http.Server
	processor *processing.Processor
	logger    *logrus.Logger
}

// NewServer builds the router. Gin runs in release mode unless the caller
// already switched it to test or debug mode.
func NewServer(opts Options) *Server {
	if opts.Mode == "" {
		opts.Mode = ModeTriple
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))

	s := &Server{
		opts:      opts,
		router:    router,
		processor: processing.NewProcessor(),
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/predict/:disease", s.handlePredict)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   s.opts.Mode,
		"tasks":  types.Tasks(),
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	task, err := types.ParseTask(c.Param("disease"))
	if err != nil {
		detail(c, http.StatusNotFound, fmt.Sprintf("Unknown disease '%s'", c.Param("disease")))
		return
	}
	explainRequested := parseExplain(c.Query("explain"))

	fh, err := c.FormFile("file")
	if err != nil {
		detail(c, http.StatusBadRequest, "No file uploaded")
		return
	}
	if fh.Size > s.opts.MaxUploadBytes {
		detail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %d bytes)", s.opts.MaxUploadBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		detail(c, http.StatusBadRequest, "Could not read upload")
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		detail(c, http.StatusBadRequest, "Could not read upload")
		return
	}

	img, _, err := s.processor.Decode(data)
	if err != nil {
		detail(c, http.StatusBadRequest, "Uploaded file is not a valid image")
		return
	}

	if !s.wait(c.Request.Context()) {
		return
	}

	classes := task.Taxonomy()
	probs := Scores(data, len(classes))
	best := argmax(probs)

	var ex *Explanation
	if explainRequested {
		ex, err = Render(img, data)
		if err != nil {
			s.logger.WithError(err).Error("explanation rendering failed")
			detail(c, http.StatusInternalServerError, "Explanation rendering failed")
			return
		}
	}

	switch s.opts.Mode {
	case ModeTopK:
		heatmap := ""
		if ex != nil {
			heatmap = s.encode(ex.Heatmap)
		}
		c.JSON(http.StatusOK, topKBody(task, classes, probs, best, heatmap))
	case ModeLegacy:
		body := baseBody(fh.Filename, classes, probs, best, explainRequested)
		body["explain_image"] = nil
		if ex != nil {
			body["explain_image"] = s.encode(ex.Overlay)
		}
		c.JSON(http.StatusOK, body)
	default:
		body := baseBody(fh.Filename, classes, probs, best, explainRequested)
		body["explain_image"] = nil
		if ex != nil {
			body["explain_original"] = s.encode(ex.Original)
			body["explain_overlay"] = s.encode(ex.Overlay)
			body["explain_heatmap"] = s.encode(ex.Heatmap)
		}
		c.JSON(http.StatusOK, body)
	}
}

// wait applies the configured latency. It reports false when the client
// went away first.
func (s *Server) wait(ctx context.Context) bool {
	if s.opts.Latency <= 0 {
		return true
	}
	t := time.NewTimer(s.opts.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) encode(img image.Image) string {
	data, _, err := s.processor.Encode(img, "png", 0, false)
	if err != nil {
		s.logger.WithError(err).Warn("png encoding failed")
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func baseBody(filename string, classes []string, probs []float64, best int, explainRequested bool) gin.H {
	return gin.H{
		"label":             classes[best],
		"confidence":        probs[best],
		"probs":             probs,
		"classes":           classes,
		"filename":          filename,
		"explain_requested": explainRequested,
		"explain_supported": true,
	}
}

func topKBody(task types.DiseaseTask, classes []string, probs []float64, best int, heatmap string) gin.H {
	order := make([]int, len(classes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	labels := make([]string, len(order))
	scores := make([]float64, len(order))
	for i, idx := range order {
		labels[i] = classes[idx]
		scores[i] = probs[idx]
	}

	body := gin.H{
		"disease":     task,
		"label":       classes[best],
		"score":       probs[best],
		"topk_labels": labels,
		"topk_scores": scores,
		"heatmap_b64": nil,
	}
	if heatmap != "" {
		body["heatmap_b64"] = heatmap
	}
	return body
}

// Scores derives n probabilities summing to one from a hash of data
func Scores(data []byte, n int) []float64 {
	sum := sha256.Sum256(data)
	weights := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		weights[i] = float64(sum[i%len(sum)]) + 1
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func parseExplain(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start),
			"request_id": c.GetString("request_id"),
		}).Info("request")
	}
}
