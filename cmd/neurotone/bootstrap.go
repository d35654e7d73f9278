// cmd/neurotone/bootstrap.go
package main

import (
	"context"

	"github.com/SyedDaiam9101/neurotone-service/internal/audio"
	"github.com/SyedDaiam9101/neurotone-service/internal/cache"
	"github.com/SyedDaiam9101/neurotone-service/internal/config"
	"github.com/SyedDaiam9101/neurotone-service/internal/features"
	"github.com/SyedDaiam9101/neurotone-service/internal/inference"
	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
	"github.com/SyedDaiam9101/neurotone-service/internal/predictor"
)

// buildPredictor loads the model described by cfg and returns a started
// predictor. Any error is a startup failure.
func buildPredictor(ctx context.Context, cfg *config.Config, log *logger.Logger, withCache bool) (*predictor.Predictor, func(), error) {
	norm, err := audio.NewNormalizer(cfg.Model.SampleRate, cfg.Model.MaxLengthSamples,
		audio.WithLogger(logger.Named("audio")))
	if err != nil {
		return nil, nil, err
	}

	newEncoder := func() (inference.Encoder, error) {
		if cfg.UseMockInference {
			log.Warn().Int("hidden_size", cfg.Model.HiddenSize).Msg("using mock encoder")
			return inference.NewMock(cfg.Model.HiddenSize), nil
		}
		path := inference.ResolveModelPath(cfg.Model.Dir, cfg.Model.BaseModel)
		log.Info().Str("path", path).Msg("loading ONNX encoder")
		return inference.New(inference.Options{
			ModelPath:      path,
			LibraryPath:    cfg.Model.ONNXLibrary,
			HiddenSize:     cfg.Model.HiddenSize,
			MaskInput:      cfg.Features.AttentionMask,
			IntraOpThreads: cfg.Model.IntraOpThreads,
		})
	}

	log.Info().Str("checkpoint", cfg.Model.Checkpoint).Msg("loading model")
	m, err := predictor.LoadModel(predictor.LoadOptions{
		CheckpointPath: cfg.Model.Checkpoint,
		Features: features.Config{
			SampleRate:    cfg.Model.SampleRate,
			Length:        cfg.Model.MaxLengthSamples,
			Normalize:     cfg.Features.Normalize,
			AttentionMask: cfg.Features.AttentionMask,
		},
		ClassNames: cfg.Model.ClassNames,
		NewEncoder: newEncoder,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := []predictor.Option{
		predictor.WithLogger(logger.Named("predictor")),
		predictor.WithThreshold(cfg.Model.Threshold),
		predictor.WithTimeout(cfg.RequestTimeout),
	}

	var closers []func() error
	if withCache && cfg.Redis != "" {
		log.Info().Str("addr", cfg.Redis).Msg("connecting to Redis")
		c, err := cache.New(ctx, cfg.Redis, cfg.CacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("continuing without result cache")
		} else {
			opts = append(opts, predictor.WithCache(c))
			closers = append(closers, c.Close)
		}
	}

	p := predictor.New(norm, opts...)
	if err := p.Start(m); err != nil {
		m.Encoder.Close()
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := p.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("model shutdown")
		}
		for _, c := range closers {
			c()
		}
	}
	return p, cleanup, nil
}
