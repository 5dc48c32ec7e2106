package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/retinalab/drgrade/checkpoints"
	"github.com/retinalab/drgrade/dataloader"
	"github.com/retinalab/drgrade/dataset"
	"github.com/retinalab/drgrade/model"
	"github.com/retinalab/drgrade/preprocessing"
	"github.com/retinalab/drgrade/store"
	"github.com/retinalab/drgrade/training"
)

func main() {
	var (
		dataDir        = flag.String("data", "", "directory with labels.csv and image files")
		checkpointPath = flag.String("checkpoint", "checkpoints/best_model.json", "checkpoint file path")
		metricsPath    = flag.String("metrics", "metrics/history.csv", "per-epoch metrics CSV (empty to disable)")
		plotPath       = flag.String("plot", "", "write training curves HTML here after the run")
		dbPath         = flag.String("db", "", "sqlite run database (empty to disable)")
		epochs         = flag.Int("epochs", 30, "maximum epochs")
		patience       = flag.Int("patience", 7, "epochs without val improvement before stopping")
		batchSize      = flag.Int("batch-size", 32, "batch size")
		imageSize      = flag.Int("image-size", 224, "square input size in pixels")
		hiddenDim      = flag.Int("hidden", 128, "hidden units (0 for a linear classifier)")
		lr             = flag.Float64("lr", 1e-3, "base learning rate")
		weightDecay    = flag.Float64("weight-decay", 1e-2, "AdamW weight decay")
		valFraction    = flag.Float64("val-fraction", 0.2, "validation split fraction")
		seed           = flag.Int64("seed", 42, "seed for split, shuffle and init")
		lossName       = flag.String("loss", "focal", "loss: focal or weighted-ce")
		balance        = flag.String("balance", "loss", "class balancing: loss, sampler or none")
		warmup         = flag.Int("warmup", 0, "warmup steps for the cosine schedule (0 for constant LR)")
		clipNorm       = flag.Float64("clip-norm", 1.0, "gradient clipping norm (0 disables)")
		amp            = flag.Bool("amp", false, "dynamic loss scaling with non-finite step skipping")
		resume         = flag.Bool("resume", false, "resume from the checkpoint if present")
		verbose        = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "usage: train -data <dir> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*dataDir, *checkpointPath, *metricsPath, *plotPath, *dbPath,
		*epochs, *patience, *batchSize, *imageSize, *hiddenDim,
		*lr, *weightDecay, *valFraction, *seed,
		*lossName, *balance, *warmup, *clipNorm, *amp, *resume); err != nil {
		log.WithError(err).Fatal("training failed")
	}
}

func run(dataDir, checkpointPath, metricsPath, plotPath, dbPath string,
	epochs, patience, batchSize, imageSize, hiddenDim int,
	lr, weightDecay, valFraction float64, seed int64,
	lossName, balance string, warmup int, clipNorm float64, amp, resume bool,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	labels, err := dataset.LoadManifest(dataDir)
	if err != nil {
		return err
	}
	index, err := dataset.BuildIndex(dataDir, labels)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"samples": index.Len(), "counts": index.ClassCounts()}).Info("dataset indexed")

	trainIdx, valIdx, err := dataset.Split(index, valFraction, seed)
	if err != nil {
		return err
	}

	classWeights, err := dataset.ClassWeights(trainIdx)
	if err != nil {
		return err
	}

	processor := preprocessing.NewProcessor(imageSize)
	augmenter := preprocessing.NewAugmenter(preprocessing.DefaultAugmentConfig(), seed)
	trainProvider := dataset.NewProvider(trainIdx, processor, augmenter)
	valProvider := dataset.NewProvider(valIdx, preprocessing.NewProcessor(imageSize), nil)

	trainCfg := dataloader.Config{BatchSize: batchSize, Shuffle: true, Seed: seed}
	var lossWeights []float64
	switch balance {
	case "sampler":
		// Balance at the sampler; the loss stays uniform so the correction
		// is not applied twice.
		trainCfg.SampleWeights = dataset.SampleWeights(trainIdx, classWeights)
	case "loss":
		lossWeights = classWeights
	case "none":
	default:
		return fmt.Errorf("unknown balance mode %q", balance)
	}

	trainLoader, err := dataloader.NewLoader(trainProvider, trainCfg)
	if err != nil {
		return err
	}
	valLoader, err := dataloader.NewLoader(valProvider, dataloader.Config{
		BatchSize: batchSize,
		Seed:      seed,
		CacheSize: valIdx.Len(),
	})
	if err != nil {
		return err
	}

	var loss training.Loss
	switch lossName {
	case "focal":
		loss = training.NewFocalLoss(2, lossWeights)
	case "weighted-ce":
		loss = training.NewWeightedCrossEntropy(lossWeights)
	default:
		return fmt.Errorf("unknown loss %q", lossName)
	}

	inputDim := 3 * imageSize * imageSize
	var classifier model.Trainable
	if hiddenDim > 0 {
		classifier, err = model.NewMLPClassifier(inputDim, hiddenDim, dataset.NumClasses, seed)
	} else {
		classifier, err = model.NewLinearClassifier(inputDim, dataset.NumClasses, seed)
	}
	if err != nil {
		return err
	}

	optimizer := training.NewAdamW(classifier.Parameters(), lr, weightDecay)

	var scheduler training.LRScheduler
	if warmup > 0 {
		totalSteps := epochs * trainLoader.Batches()
		scheduler = training.NewWarmupCosineScheduler(warmup, totalSteps, lr*0.01)
	}

	trainer, err := training.NewTrainer(training.Config{
		Epochs:         epochs,
		BaseLR:         lr,
		Patience:       patience,
		GradClipNorm:   clipNorm,
		CheckpointPath: checkpointPath,
		MetricsPath:    metricsPath,
		ShowProgress:   true,
	}, classifier, optimizer, loss, scheduler, trainLoader, valLoader,
		checkpoints.NewSaver(checkpoints.FormatJSON))
	if err != nil {
		return err
	}

	if amp {
		trainer.SetGradScaler(training.NewGradScaler(true))
	}

	if dbPath != "" {
		runStore, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer runStore.Close()
		if err := runStore.CreateRun(trainer.RunID(), fmt.Sprintf("train on %s", dataDir)); err != nil {
			return err
		}
		trainer.SetRecorder(runStore)
	}

	if resume {
		if err := trainer.Resume(); err != nil {
			return err
		}
	}

	result, err := trainer.Fit(ctx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"run_id":   result.RunID,
		"epochs":   result.EpochsRun,
		"best_acc": result.BestAccuracy,
		"reason":   result.StopReason.String(),
	}).Info("training finished")

	if plotPath != "" && metricsPath != "" {
		history, err := training.ReadMetrics(metricsPath)
		if err != nil {
			return err
		}
		if err := training.RenderHistory(history, plotPath); err != nil {
			return err
		}
		log.WithField("path", plotPath).Info("training curves written")
	}
	return nil
}
