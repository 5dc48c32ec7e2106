package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/retinalab/drgrade/checkpoints"
	"github.com/retinalab/drgrade/dataset"
	"github.com/retinalab/drgrade/evaluation"
	"github.com/retinalab/drgrade/preprocessing"
)

func main() {
	var (
		dataDir        = flag.String("data", "", "directory with labels.csv and image files")
		checkpointPath = flag.String("checkpoint", "checkpoints/best_model.json", "checkpoint to evaluate")
		imageSize      = flag.Int("image-size", 224, "square input size in pixels")
		useTTA         = flag.Bool("tta", true, "combine predictions across augmentation variants")
		valFraction    = flag.Float64("val-fraction", 0.2, "evaluate the validation side of this split (0 for the full set)")
		seed           = flag.Int64("seed", 42, "split seed; must match training")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "usage: evaluate -data <dir> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*dataDir, *checkpointPath, *imageSize, *useTTA, *valFraction, *seed); err != nil {
		log.WithError(err).Fatal("evaluation failed")
	}
}

func run(dataDir, checkpointPath string, imageSize int, useTTA bool, valFraction float64, seed int64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	saver := checkpoints.NewSaver(checkpoints.FormatJSON)
	ckpt, err := saver.Load(checkpointPath)
	if err != nil {
		return err
	}
	if ckpt.IsSentinel() {
		return fmt.Errorf("no checkpoint at %s", checkpointPath)
	}
	classifier, err := checkpoints.BuildModel(ckpt)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"epoch":    ckpt.TrainingState.Epoch,
		"best_acc": ckpt.TrainingState.BestAccuracy,
	}).Info("checkpoint loaded")

	labels, err := dataset.LoadManifest(dataDir)
	if err != nil {
		return err
	}
	index, err := dataset.BuildIndex(dataDir, labels)
	if err != nil {
		return err
	}
	if valFraction > 0 {
		_, index, err = dataset.Split(index, valFraction, seed)
		if err != nil {
			return err
		}
	}

	provider := dataset.NewProvider(index, preprocessing.NewProcessor(imageSize), nil)

	var variants []preprocessing.Variant
	if useTTA {
		variants = preprocessing.TTAVariants(imageSize)
	}
	evaluator := evaluation.NewEvaluator(classifier, variants, imageSize)

	report, err := evaluator.Evaluate(ctx, provider, true)
	if err != nil {
		return err
	}
	fmt.Println(report.String())
	return nil
}
