package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/retinalab/drgrade/checkpoints"
	"github.com/retinalab/drgrade/evaluation"
	"github.com/retinalab/drgrade/preprocessing"
	"github.com/retinalab/drgrade/server"
	"github.com/retinalab/drgrade/store"
)

func main() {
	var (
		addr           = flag.String("addr", ":8000", "listen address")
		checkpointPath = flag.String("checkpoint", "checkpoints/best_model.json", "checkpoint to serve")
		imageSize      = flag.Int("image-size", 224, "square input size in pixels")
		useTTA         = flag.Bool("tta", false, "combine predictions across augmentation variants")
		maxUpload      = flag.Int64("max-upload", server.DefaultMaxUploadBytes, "maximum upload size in bytes")
		metricsPath    = flag.String("metrics", "", "training history CSV served by /metrics (empty to disable)")
		dbPath         = flag.String("db", "", "sqlite run database serving /metrics history (overrides -metrics)")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := run(*addr, *checkpointPath, *imageSize, *useTTA, *maxUpload, *metricsPath, *dbPath); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(addr, checkpointPath string, imageSize int, useTTA bool, maxUpload int64, metricsPath, dbPath string) error {
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
	}).Info("model loaded")

	var variants []preprocessing.Variant
	if useTTA {
		variants = preprocessing.TTAVariants(imageSize)
	}
	evaluator := evaluation.NewEvaluator(classifier, variants, imageSize)

	svc := server.NewService(server.Config{
		Addr:           addr,
		TargetSize:     imageSize,
		MaxUploadBytes: maxUpload,
		EnableTTA:      useTTA,
		MetricsPath:    metricsPath,
	}, evaluator)

	if dbPath != "" {
		runStore, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer runStore.Close()
		svc.SetHistorySource(runStore.LatestRunHistory)
	}
	return svc.Run()
}
