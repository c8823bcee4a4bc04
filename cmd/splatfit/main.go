package main

import (
	"context"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/setanarut/splatfit"
	"github.com/setanarut/splatfit/utils"
)

type options struct {
	Input        string  `long:"input" description:"target image path" required:"true"`
	NumPoints    int     `long:"num_points" description:"number of gaussians" required:"true"`
	Iterations   int     `long:"iterations" description:"training iterations" required:"true"`
	LearningRate float64 `long:"learning_rate" description:"adam learning rate" required:"true"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(log, opts); err != nil {
		log.WithError(err).Error("training failed")
		os.Exit(1)
	}
}

func run(log *logrus.Logger, opts options) error {
	if opts.NumPoints <= 0 || opts.Iterations <= 0 || !(opts.LearningRate > 0) {
		return errors.Errorf("num_points, iterations and learning_rate must be positive")
	}

	cfg := splatfit.DefaultOptions()
	cfg.NumPoints = opts.NumPoints
	cfg.Iterations = opts.Iterations
	cfg.LearningRate = opts.LearningRate
	cfg.SaveImages = true
	cfg.Logger = log

	// Checked before any Gaussian state exists.
	target, err := utils.LoadTarget(opts.Input, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}

	trainer, err := splatfit.NewTrainer(target, cfg)
	if err != nil {
		return err
	}
	defer trainer.Close()

	res, err := trainer.Train(context.Background())
	if err != nil {
		return err
	}

	if cfg.SaveImages {
		written, err := trainer.Diagnostics().Export(".", res.Losses)
		for _, p := range written {
			log.Infof("saved %s", p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
