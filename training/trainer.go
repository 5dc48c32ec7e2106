// Package training runs the optimization loop: epochs of batched forward,
// loss, backward and optimizer steps, with validation, checkpointing on
// improvement, early stopping, and durable metrics history.
package training

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/retinalab/drgrade/checkpoints"
	"github.com/retinalab/drgrade/dataloader"
	"github.com/retinalab/drgrade/model"
)

// ConfigError reports an invalid trainer configuration. Configuration
// problems fail fast before any epoch runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("training config: %s %s", e.Field, e.Reason)
}

// StopReason explains why a run ended.
type StopReason int

const (
	// StopEpochsExhausted means the run completed every configured epoch.
	StopEpochsExhausted StopReason = iota
	// StopEarly means validation accuracy failed to improve for Patience
	// consecutive epochs.
	StopEarly
	// StopCancelled means the context was cancelled mid-run.
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopEpochsExhausted:
		return "epochs exhausted"
	case StopEarly:
		return "early stopping"
	case StopCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Config controls a training run.
type Config struct {
	Epochs         int
	BaseLR         float64
	Patience       int    // Epochs without val improvement before stopping
	GradClipNorm   float64 // 0 disables clipping
	CheckpointPath string
	MetricsPath    string  // "" disables the CSV history
	ShowProgress   bool
}

// Validate checks the configuration before any work starts.
func (c *Config) Validate() error {
	if c.Epochs <= 0 {
		return &ConfigError{Field: "Epochs", Reason: "must be positive"}
	}
	if c.BaseLR <= 0 {
		return &ConfigError{Field: "BaseLR", Reason: "must be positive"}
	}
	if c.Patience < 0 {
		return &ConfigError{Field: "Patience", Reason: "must not be negative"}
	}
	if c.GradClipNorm < 0 {
		return &ConfigError{Field: "GradClipNorm", Reason: "must not be negative"}
	}
	if c.CheckpointPath == "" {
		return &ConfigError{Field: "CheckpointPath", Reason: "is required"}
	}
	return nil
}

// EpochRecorder receives per-epoch metrics for external storage. A nil
// recorder is allowed.
type EpochRecorder interface {
	RecordEpoch(runID string, m EpochMetrics) error
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	EpochsRun    int
	BestAccuracy float64
	BestLoss     float64
	TotalSteps   int
	StopReason   StopReason
}

// Trainer orchestrates the full loop over a trainable model.
type Trainer struct {
	cfg       Config
	model     model.Trainable
	optimizer Optimizer
	loss      Loss
	scheduler LRScheduler
	plateau   *ReduceLROnPlateauScheduler
	scaler    *GradScaler

	trainLoader *dataloader.Loader
	valLoader   *dataloader.Loader
	saver       *checkpoints.Saver
	metrics     *MetricsWriter
	recorder    EpochRecorder

	runID      string
	bestAcc    float64
	bestLoss   float64
	badEpochs  int
	totalSteps int
	startEpoch int
}

// NewTrainer wires the trainer. The scheduler may be nil (constant LR); a
// ReduceLROnPlateauScheduler is stepped with the validation loss each epoch,
// any other scheduler is consulted per optimizer step.
func NewTrainer(
	cfg Config,
	m model.Trainable,
	opt Optimizer,
	loss Loss,
	scheduler LRScheduler,
	trainLoader, valLoader *dataloader.Loader,
	saver *checkpoints.Saver,
) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &ConfigError{Field: "model", Reason: "is required"}
	}
	if opt == nil {
		return nil, &ConfigError{Field: "optimizer", Reason: "is required"}
	}
	if loss == nil {
		return nil, &ConfigError{Field: "loss", Reason: "is required"}
	}
	if trainLoader == nil || valLoader == nil {
		return nil, &ConfigError{Field: "loaders", Reason: "are required"}
	}
	if saver == nil {
		saver = checkpoints.NewSaver(checkpoints.FormatJSON)
	}
	if scheduler == nil {
		scheduler = &NoOpScheduler{}
	}

	t := &Trainer{
		cfg:         cfg,
		model:       m,
		optimizer:   opt,
		loss:        loss,
		scheduler:   scheduler,
		scaler:      NewGradScaler(false),
		trainLoader: trainLoader,
		valLoader:   valLoader,
		saver:       saver,
		runID:       uuid.NewString(),
		bestAcc:     0,
		bestLoss:    math.Inf(1),
	}
	if p, ok := scheduler.(*ReduceLROnPlateauScheduler); ok {
		t.plateau = p
	}
	return t, nil
}

// SetGradScaler enables dynamic loss scaling.
func (t *Trainer) SetGradScaler(s *GradScaler) { t.scaler = s }

// SetRecorder attaches an external per-epoch metrics sink.
func (t *Trainer) SetRecorder(r EpochRecorder) { t.recorder = r }

// RunID returns the identifier for this run.
func (t *Trainer) RunID() string { return t.runID }

// Resume restores model weights, optimizer state and progress counters from
// the checkpoint at the configured path. A missing checkpoint is not an
// error; the run simply starts from scratch.
func (t *Trainer) Resume() error {
	ckpt, err := t.saver.Load(t.cfg.CheckpointPath)
	if err != nil {
		return err
	}
	if ckpt.IsSentinel() {
		return nil
	}

	if err := checkpoints.RestoreWeights(ckpt.Weights, t.model); err != nil {
		return fmt.Errorf("failed to restore weights: %w", err)
	}
	if ckpt.OptimizerState != nil {
		if err := t.optimizer.LoadState(ckpt.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %w", err)
		}
	}

	t.startEpoch = ckpt.TrainingState.Epoch
	t.bestLoss = ckpt.TrainingState.BestLoss
	t.bestAcc = ckpt.TrainingState.BestAccuracy
	t.totalSteps = ckpt.TrainingState.TotalSteps
	if ckpt.Metadata.RunID != "" {
		t.runID = ckpt.Metadata.RunID
	}
	if ckpt.TrainingState.LearningRate > 0 {
		t.optimizer.SetLR(ckpt.TrainingState.LearningRate)
	}

	log.WithFields(log.Fields{
		"epoch":    t.startEpoch,
		"best_acc": t.bestAcc,
		"run_id":   t.runID,
	}).Info("resumed from checkpoint")
	return nil
}

// Fit runs training until the epoch budget, early stopping, or context
// cancellation ends it.
func (t *Trainer) Fit(ctx context.Context) (*Result, error) {
	if t.cfg.MetricsPath != "" {
		w, err := NewMetricsWriter(t.cfg.MetricsPath)
		if err != nil {
			return nil, err
		}
		t.metrics = w
		defer t.metrics.Close()
	}

	result := &Result{
		RunID:      t.runID,
		StopReason: StopEpochsExhausted,
	}

	for epoch := t.startEpoch + 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			result.StopReason = StopCancelled
			break
		}

		trainLoss, trainAcc, err := t.trainEpoch(ctx, epoch)
		if err != nil {
			// One broken epoch does not end a long run, but it cannot count
			// as progress either.
			log.WithFields(log.Fields{"epoch": epoch, "error": err}).
				Error("epoch failed, continuing with next")
			continue
		}

		valLoss, valAcc, err := t.validateEpoch(ctx)
		if err != nil {
			log.WithFields(log.Fields{"epoch": epoch, "error": err}).
				Error("validation failed, continuing with next epoch")
			continue
		}

		if t.plateau != nil {
			t.optimizer.SetLR(t.plateau.Step(valLoss, t.optimizer.GetLR()))
		}

		result.EpochsRun = epoch

		m := EpochMetrics{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			TrainAcc:     trainAcc,
			ValLoss:      valLoss,
			ValAcc:       valAcc,
			LearningRate: t.optimizer.GetLR(),
		}
		t.recordEpoch(m)

		log.WithFields(log.Fields{
			"epoch":      epoch,
			"train_loss": fmt.Sprintf("%.4f", trainLoss),
			"train_acc":  fmt.Sprintf("%.4f", trainAcc),
			"val_loss":   fmt.Sprintf("%.4f", valLoss),
			"val_acc":    fmt.Sprintf("%.4f", valAcc),
			"lr":         t.optimizer.GetLR(),
		}).Info("epoch complete")

		if valAcc > t.bestAcc {
			t.bestAcc = valAcc
			t.bestLoss = valLoss
			t.badEpochs = 0
			if err := t.saveCheckpoint(epoch); err != nil {
				// Losing the ability to persist the best model makes further
				// training pointless.
				return nil, fmt.Errorf("failed to save checkpoint: %w", err)
			}
			log.WithFields(log.Fields{"epoch": epoch, "val_acc": valAcc}).
				Info("validation improved, checkpoint saved")
		} else {
			t.badEpochs++
			if t.cfg.Patience > 0 && t.badEpochs >= t.cfg.Patience {
				log.WithFields(log.Fields{"epoch": epoch, "patience": t.cfg.Patience}).
					Info("early stopping")
				result.StopReason = StopEarly
				break
			}
		}
	}

	result.BestAccuracy = t.bestAcc
	result.BestLoss = t.bestLoss
	result.TotalSteps = t.totalSteps
	return result, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (loss, acc float64, err error) {
	t.trainLoader.Reset()
	prefetcher := dataloader.NewPrefetcher(t.trainLoader, 0, 0)
	if err := prefetcher.Start(); err != nil {
		return 0, 0, err
	}
	defer prefetcher.Stop()

	var bar *progressbar.ProgressBar
	if t.cfg.ShowProgress {
		bar = progressbar.NewOptions(t.trainLoader.Batches(),
			progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch, t.cfg.Epochs)),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var totalLoss float64
	var correct, seen, batches int

	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		batch, err := prefetcher.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		batchLoss, batchCorrect, err := t.trainStep(batch, epoch)
		if err != nil {
			// A failed step skips the batch the same way a failed sample
			// skips the sample.
			log.WithFields(log.Fields{"epoch": epoch, "error": err}).Warn("skipping failed batch")
			continue
		}

		totalLoss += batchLoss * float64(batch.Size())
		correct += batchCorrect
		seen += batch.Size()
		batches++
		if bar != nil {
			bar.Add(1)
		}
	}

	if seen == 0 {
		return 0, 0, fmt.Errorf("no batches completed in epoch %d", epoch)
	}
	return totalLoss / float64(seen), float64(correct) / float64(seen), nil
}

func (t *Trainer) trainStep(batch *dataloader.Batch, epoch int) (loss float64, correct int, err error) {
	// Per-step schedule unless the plateau scheduler owns the LR. Epochs are
	// 1-indexed in the loop; schedulers count completed epochs, so the first
	// epoch runs at the base rate.
	if t.plateau == nil {
		t.optimizer.SetLR(t.scheduler.GetLR(epoch-1, t.totalSteps, t.cfg.BaseLR))
	}

	t.model.ZeroGrad()
	logits, err := t.model.TrainForward(batch.Inputs, batch.Shape)
	if err != nil {
		return 0, 0, err
	}

	loss = t.loss.Forward(logits, batch.Labels)
	correct = countCorrect(logits, batch.Labels)

	grad := t.loss.Backward(logits, batch.Labels)
	t.scaler.ScaleGrad(grad)
	if err := t.model.Backward(grad); err != nil {
		return 0, 0, err
	}

	if !t.scaler.Unscale(t.model.Parameters()) {
		t.scaler.Update()
		return loss, correct, fmt.Errorf("non-finite gradients, step skipped")
	}
	if t.cfg.GradClipNorm > 0 {
		ClipGradNorm(t.model.Parameters(), t.cfg.GradClipNorm)
	}
	if err := t.optimizer.Step(); err != nil {
		return 0, 0, err
	}
	t.scaler.Update()
	t.totalSteps++
	return loss, correct, nil
}

func (t *Trainer) validateEpoch(ctx context.Context) (loss, acc float64, err error) {
	t.valLoader.Reset()

	var totalLoss float64
	var correct, seen int

	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		batch, err := t.valLoader.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		logits, err := t.model.Forward(batch.Inputs, batch.Shape)
		if err != nil {
			return 0, 0, err
		}
		totalLoss += t.loss.Forward(logits, batch.Labels) * float64(batch.Size())
		correct += countCorrect(logits, batch.Labels)
		seen += batch.Size()
	}

	if seen == 0 {
		return 0, 0, fmt.Errorf("validation set produced no batches")
	}
	return totalLoss / float64(seen), float64(correct) / float64(seen), nil
}

func (t *Trainer) saveCheckpoint(epoch int) error {
	ckpt := &checkpoints.Checkpoint{
		Weights: checkpoints.ExtractWeights(t.model),
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			LearningRate: t.optimizer.GetLR(),
			BestLoss:     t.bestLoss,
			BestAccuracy: t.bestAcc,
			TotalSteps:   t.totalSteps,
		},
		OptimizerState: t.optimizer.State(),
		Metadata: checkpoints.Metadata{
			RunID:       t.runID,
			Description: fmt.Sprintf("best model at epoch %d", epoch),
		},
	}
	return t.saver.Save(ckpt, t.cfg.CheckpointPath)
}

func (t *Trainer) recordEpoch(m EpochMetrics) {
	if t.metrics != nil {
		if err := t.metrics.Record(m); err != nil {
			log.WithError(err).Warn("failed to record metrics row")
		}
	}
	if t.recorder != nil {
		if err := t.recorder.RecordEpoch(t.runID, m); err != nil {
			log.WithError(err).Warn("failed to record epoch in store")
		}
	}
}

func countCorrect(logits [][]float32, labels []int32) int {
	correct := 0
	for i, row := range logits {
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		if int32(best) == labels[i] {
			correct++
		}
	}
	return correct
}
