package main

import (
	"flag"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"

	"aquaseg/internal/config"
	"aquaseg/internal/dataset"
	"aquaseg/internal/model"
	"aquaseg/internal/raster"
	"aquaseg/internal/stats"
	"aquaseg/internal/trainer"
	"aquaseg/internal/transform"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	trainDir := flag.String("train-dir", "", "Override training tile directory")
	valDir := flag.String("val-dir", "", "Override validation tile directory")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of tile decode workers")
	device := flag.String("device", "", "Compute device (cpu or gpu)")
	seed := flag.Int64("seed", 0, "PRNG seed")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		TrainDir:   *trainDir,
		ValDir:     *valDir,
		Epochs:     *epochs,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		Device:     *device,
		Seed:       *seed,
	})

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}

	dev, err := trainer.ParseDevice(cfg.Device)
	if err != nil {
		logrus.Fatal(err)
	}

	godal.RegisterAll()
	reader := raster.GDALReader{}

	trainPairs, err := dataset.DiscoverPairs(cfg.TrainDir)
	if err != nil {
		logrus.Fatalf("discover training tiles under %s: %v", cfg.TrainDir, err)
	}
	if len(trainPairs) == 0 {
		logrus.Fatalf("no tile pairs discovered under %s", cfg.TrainDir)
	}
	logrus.WithFields(logrus.Fields{"dir": cfg.TrainDir, "pairs": len(trainPairs)}).Info("training tiles")

	st, err := stats.NewAccumulator(reader).Compute(dataset.ImagePaths(trainPairs))
	if err != nil {
		logrus.Fatalf("channel statistics: %v", err)
	}
	logrus.WithFields(logrus.Fields{"mean": st.Mean, "std": st.Std}).Info("channel statistics")

	pipeline, err := transform.NewPipeline(transform.DefaultIndices(), st)
	if err != nil {
		logrus.Fatalf("build pipeline: %v", err)
	}

	trainLoader, err := dataset.NewLoader(dataset.LoaderOptions{
		Pairs:      trainPairs,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Shuffle:    cfg.Shuffle,
		Seed:       cfg.Seed,
		Reader:     reader,
	})
	if err != nil {
		logrus.Fatalf("training loader: %v", err)
	}

	var valLoader trainer.Loader
	if cfg.ValDir != "" {
		valPairs, err := dataset.DiscoverPairs(cfg.ValDir)
		if err != nil {
			logrus.Fatalf("discover validation tiles under %s: %v", cfg.ValDir, err)
		}
		if len(valPairs) == 0 {
			logrus.Fatalf("no tile pairs discovered under %s", cfg.ValDir)
		}
		logrus.WithFields(logrus.Fields{"dir": cfg.ValDir, "pairs": len(valPairs)}).Info("validation tiles")
		vl, err := dataset.NewLoader(dataset.LoaderOptions{
			Pairs:      valPairs,
			BatchSize:  cfg.BatchSize,
			NumWorkers: cfg.NumWorkers,
			Reader:     reader,
		})
		if err != nil {
			logrus.Fatalf("validation loader: %v", err)
		}
		valLoader = vl
	}

	mdl, err := model.NewConvSeg(cfg.NumClasses, pipeline.OutChannels(), cfg.Seed)
	if err != nil {
		logrus.Fatal(err)
	}
	sgd, err := trainer.NewSGD(mdl.Parameters(), cfg.LearningRate)
	if err != nil {
		logrus.Fatal(err)
	}

	tr, err := trainer.New(mdl, trainer.NewCrossEntropyLoss(), sgd, trainer.Config{
		Epochs:     cfg.Epochs,
		Device:     dev,
		Transform:  pipeline,
		Accuracies: []trainer.Accuracy{trainer.OverallAccuracy{}, trainer.IoU{}},
	})
	if err != nil {
		logrus.Fatal(err)
	}

	logrus.WithFields(logrus.Fields{"epochs": cfg.Epochs, "device": dev}).Info("starting run")
	history, err := tr.Run(trainLoader, valLoader)
	if err != nil {
		logrus.Fatalf("training failed: %v", err)
	}
	for _, m := range history {
		logrus.WithFields(logrus.Fields{
			"epoch":      m.Epoch,
			"data_ms":    m.Timing.AvgDataMS,
			"compute_ms": m.Timing.AvgComputeMS,
		}).Debug("epoch timing")
	}
	logrus.Info("run complete")
}
