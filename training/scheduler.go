package training

import "math"

// LRScheduler maps training progress to a learning rate. Implementations are
// pure functions of (epoch, step, baseLR) except ReduceLROnPlateau, which
// tracks a metric across epochs.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// StepLRScheduler reduces the learning rate by a factor every stepSize epochs.
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string { return "StepLR" }

// ExponentialLRScheduler decays the learning rate exponentially per epoch.
type ExponentialLRScheduler struct {
	Gamma float64
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler.
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string { return "ExponentialLR" }

// WarmupCosineScheduler ramps linearly from zero over WarmupSteps optimizer
// steps, then follows a cosine decay down to EtaMin across TotalSteps. It is
// step-granular, so GetLR ignores the epoch argument.
type WarmupCosineScheduler struct {
	WarmupSteps int
	TotalSteps  int
	EtaMin      float64
}

// NewWarmupCosineScheduler creates a warmup + cosine decay scheduler over the
// full run of totalSteps optimizer steps.
func NewWarmupCosineScheduler(warmupSteps, totalSteps int, etaMin float64) *WarmupCosineScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if totalSteps <= warmupSteps {
		totalSteps = warmupSteps + 1
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &WarmupCosineScheduler{
		WarmupSteps: warmupSteps,
		TotalSteps:  totalSteps,
		EtaMin:      etaMin,
	}
}

func (s *WarmupCosineScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step+1) / float64(s.WarmupSteps)
	}
	if step >= s.TotalSteps {
		return s.EtaMin
	}
	progress := float64(step-s.WarmupSteps) / float64(s.TotalSteps-s.WarmupSteps)
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*progress))/2
}

func (s *WarmupCosineScheduler) GetName() string { return "WarmupCosine" }

// ReduceLROnPlateauScheduler reduces the LR when a tracked metric stops
// improving. Unlike the others it is stateful: Step must be called once per
// epoch with the validation metric.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Epochs with no improvement before reduction
	Threshold float64 // Minimum change to count as an improvement
	Mode      string  // "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler.
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}
	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step updates the tracked metric and returns the (possibly reduced) LR.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}
	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string { return "ReduceLROnPlateau" }

// NoOpScheduler keeps the learning rate constant.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 { return baseLR }

func (s *NoOpScheduler) GetName() string { return "ConstantLR" }
