// Package server exposes a trained model over HTTP: image upload in,
// severity grade out.
package server

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/retinalab/drgrade/dataset"
	"github.com/retinalab/drgrade/evaluation"
	"github.com/retinalab/drgrade/preprocessing"
	"github.com/retinalab/drgrade/training"
)

// DefaultMaxUploadBytes caps uploads at 10 MiB, which comfortably covers
// fundus photographs while keeping a hostile upload from exhausting memory.
const DefaultMaxUploadBytes = 10 << 20

// Config controls the inference service.
type Config struct {
	Addr           string
	TargetSize     int
	MaxUploadBytes int64
	EnableTTA      bool
	MetricsPath    string // training history CSV served by /metrics ("" disables)
}

// Service answers prediction requests against a fixed model snapshot.
type Service struct {
	cfg       Config
	evaluator *evaluation.Evaluator
	processor *preprocessing.Processor
	engine    *gin.Engine
	history   func() ([]training.EpochMetrics, error)

	startedAt   time.Time
	predictions atomic.Int64
	failures    atomic.Int64
}

// Prediction is the response body for a successful prediction.
type Prediction struct {
	PredictedClass int                `json:"predicted_class"`
	Severity       string             `json:"severity"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities"`
}

// NewService wires the HTTP routes around an evaluator. The evaluator
// carries the model and, when configured, the test-time augmentation set.
func NewService(cfg Config, evaluator *evaluation.Evaluator) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Service{
		cfg:       cfg,
		evaluator: evaluator,
		processor: preprocessing.NewProcessor(cfg.TargetSize),
		startedAt: time.Now().UTC(),
	}
	if cfg.MetricsPath != "" {
		s.history = func() ([]training.EpochMetrics, error) {
			return training.ReadMetrics(cfg.MetricsPath)
		}
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/predict", s.handlePredict)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", s.handleMetrics)
	engine.GET("/classes", s.handleClasses)
	s.engine = engine
	return s
}

// SetHistorySource overrides where /metrics reads the training history from,
// e.g. a run store instead of the metrics CSV.
func (s *Service) SetHistorySource(fn func() ([]training.EpochMetrics, error)) {
	s.history = fn
}

// Handler exposes the router for tests and custom servers.
func (s *Service) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Service) Run() error {
	log.WithFields(log.Fields{"addr": s.cfg.Addr, "tta": s.cfg.EnableTTA}).Info("inference service listening")
	return s.engine.Run(s.cfg.Addr)
}

func (s *Service) handlePredict(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("upload exceeds %d byte limit", s.cfg.MaxUploadBytes),
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		s.failures.Add(1)
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or unreadable \"file\" form field"})
		return
	}
	defer file.Close()

	img, err := s.processor.DecodeAndPreprocess(file, nil)
	if err != nil {
		s.failures.Add(1)
		log.WithError(err).Warn("failed to decode uploaded image")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not decode image"})
		return
	}

	logits, err := s.evaluator.Predict(img.Data)
	if err != nil {
		s.failures.Add(1)
		log.WithError(err).Error("prediction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
		return
	}

	probs := training.Softmax(logits)
	best := 0
	for j := 1; j < len(probs); j++ {
		if probs[j] > probs[best] {
			best = j
		}
	}

	probabilities := make(map[string]float64, len(probs))
	for j, p := range probs {
		probabilities[dataset.ClassNames[j]] = p * 100
	}

	s.predictions.Add(1)
	c.JSON(http.StatusOK, Prediction{
		PredictedClass: best,
		Severity:       dataset.ClassNames[best],
		Confidence:     probs[best] * 100,
		Probabilities:  probabilities,
	})
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Service) handleMetrics(c *gin.Context) {
	resp := gin.H{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"predictions":    s.predictions.Load(),
		"failures":       s.failures.Load(),
		"tta_enabled":    s.cfg.EnableTTA,
	}
	if s.history != nil {
		history, err := s.history()
		if err != nil {
			log.WithError(err).Warn("failed to read training history")
		} else {
			resp["training_history"] = history
			resp["epochs_recorded"] = len(history)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleClasses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"classes": dataset.ClassNames})
}
