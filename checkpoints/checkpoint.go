// Package checkpoints persists and restores trainable state: model
// parameters, optimizer state, and training progress metadata. Saves are
// atomic (write to a temp file, fsync, rename) so a crash mid-write never
// leaves a truncated checkpoint where a good one used to be.
package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/retinalab/drgrade/model"
)

// ErrCorruptCheckpoint indicates a checkpoint file that exists but cannot be
// deserialized. This is surfaced, never silently reset: overwriting a
// best-model file because of a read bug would destroy training output.
var ErrCorruptCheckpoint = errors.New("checkpoints: corrupt checkpoint file")

// Format selects the serialization format.
type Format int

const (
	// FormatJSON writes human-inspectable JSON.
	FormatJSON Format = iota
	// FormatBinary writes a compact protobuf wire-format blob.
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// WeightTensor is one flat model parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures training progress at save time.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
	BestAccuracy float64 `json:"best_accuracy"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer hyperparameters and slot tensors
// (momentum, first/second moments) so training can resume exactly.
type OptimizerState struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Slots      []WeightTensor     `json:"slots,omitempty"`
}

// Metadata describes provenance.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete durable snapshot of trainable state.
type Checkpoint struct {
	Weights        []WeightTensor  `json:"weights"`
	TrainingState  TrainingState   `json:"training_state"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// NoCheckpoint returns the sentinel for a missing checkpoint: epoch 0,
// best loss +Inf, no weights. Callers treat it as "start from scratch".
func NoCheckpoint() *Checkpoint {
	return &Checkpoint{
		TrainingState: TrainingState{
			Epoch:    0,
			BestLoss: math.Inf(1),
		},
	}
}

// IsSentinel reports whether c carries no saved weights.
func (c *Checkpoint) IsSentinel() bool { return len(c.Weights) == 0 }

// Saver reads and writes checkpoints in a fixed format.
type Saver struct {
	format Format
}

// NewSaver creates a saver for the given format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Save writes the checkpoint to path, overwriting atomically.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "drgrade"
		checkpoint.Metadata.Version = "1.0.0"
	}
	checkpoint.Metadata.CreatedAt = time.Now().UTC()

	var data []byte
	var err error
	switch s.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatBinary:
		data, err = encodeBinary(checkpoint)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return writeAtomic(path, data)
}

// Load reads the checkpoint at path. A missing file yields the NoCheckpoint
// sentinel with a nil error; a file that exists but cannot be decoded is
// ErrCorruptCheckpoint.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NoCheckpoint(), nil
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	var checkpoint *Checkpoint
	switch s.format {
	case FormatJSON:
		checkpoint = &Checkpoint{}
		if err := json.Unmarshal(data, checkpoint); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCheckpoint, path, err)
		}
	case FormatBinary:
		checkpoint, err = decodeBinary(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCheckpoint, path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}

	return checkpoint, nil
}

// writeAtomic writes data next to path and renames it into place, syncing
// before the rename so the checkpoint is durable once Save returns.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// ExtractWeights snapshots the model's parameters into weight tensors.
func ExtractWeights(m model.Trainable) []WeightTensor {
	params := m.Parameters()
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		weights[i] = WeightTensor{Name: p.Name, Shape: shape, Data: data}
	}
	return weights
}

// RestoreWeights loads saved weight tensors back into the model's
// parameters, matching by name and verifying shapes.
func RestoreWeights(weights []WeightTensor, m model.Trainable) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range m.Parameters() {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", p.Name)
		}
		if len(w.Data) != len(p.Data) {
			return fmt.Errorf("parameter %q size mismatch: checkpoint %d, model %d",
				p.Name, len(w.Data), len(p.Data))
		}
		for j, dim := range p.Shape {
			if j >= len(w.Shape) || w.Shape[j] != dim {
				return fmt.Errorf("parameter %q shape mismatch: checkpoint %v, model %v",
					p.Name, w.Shape, p.Shape)
			}
		}
		copy(p.Data, w.Data)
	}
	return nil
}
