package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/fogpdm/internal/alert"
	"codeberg.org/mutker/fogpdm/internal/config"
	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"codeberg.org/mutker/fogpdm/internal/sensor"
	"codeberg.org/mutker/fogpdm/internal/store"
)

// buildPredictor constructs one tier from its configuration. The returned
// name describes it for the report.
func buildPredictor(pc config.PredictorConfig, seed int64) (predictor.Predictor, string, error) {
	errFactory := errors.New()

	var (
		p    predictor.Predictor
		name = pc.Kind
	)
	switch pc.Kind {
	case config.PredictorRule:
		p = predictor.NewRule()
	case config.PredictorLinear:
		if pc.ModelPath == "" {
			p = predictor.NewLinear(predictor.DefaultModel())
			break
		}
		l, err := predictor.LoadLinear(pc.ModelPath)
		if err != nil {
			return nil, "", err
		}
		p = l
		name += ":" + pc.ModelPath
	case config.PredictorExec:
		p = predictor.NewExec(pc.Command, pc.Args...)
		name += ":" + strings.TrimSpace(pc.Command+" "+strings.Join(pc.Args, " "))
	case config.PredictorSocket:
		p = predictor.NewSocket(pc.Address)
		name += ":" + pc.Address
	default:
		return nil, "", errFactory.WithData(errors.ErrInvalidConfig, struct{ Kind string }{pc.Kind})
	}

	if pc.Delay > 0 || pc.Jitter > 0 || pc.FailureRate > 0 {
		p = predictor.NewDelayed(p, pc.DelayDuration(), pc.JitterDuration(), pc.FailureRate, seed)
		name += fmt.Sprintf(" (+%s±%s, fail %.0f%%)", pc.DelayDuration(), pc.JitterDuration(), pc.FailureRate*100)
	}

	return p, name, nil
}

// tierSeed derives a per-tier seed so the tiers do not share a random
// sequence. Zero stays zero, which means time based.
func tierSeed(seed int64, tier predictor.Tier) int64 {
	if seed == 0 {
		return 0
	}
	if tier == predictor.TierCloud {
		return seed + 2
	}
	return seed + 1
}

// buildSource returns the configured sensor source and a function releasing
// it.
func buildSource(cfg *config.Config) (sensor.Source, func(), error) {
	switch cfg.Source {
	case config.SourceReplay:
		r, err := sensor.LoadReplay(cfg.ReplayFile)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	case config.SourceNVML:
		s, err := sensor.NewNVML()
		if err != nil {
			return nil, nil, err
		}
		if n, err := s.DeviceCount(); err == nil && n < cfg.NumMachines {
			logger.Warn().
				Int("devices", n).
				Int("machines", cfg.NumMachines).
				Msg("Fewer GPUs than machines, extra monitors will report read errors")
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to shut down NVML")
			}
		}, nil
	default:
		return sensor.NewSimulated(cfg.FaultProbability, cfg.Seed), func() {}, nil
	}
}

func storeConfig(cfg *config.Config) store.Config {
	sc := store.DefaultConfig()
	sc.Driver = cfg.Store.Driver
	sc.DBPath = cfg.Store.Path
	sc.BatchSize = cfg.Store.BatchSize
	sc.BatchTimeout = time.Duration(cfg.Store.BatchTimeout) * time.Second
	sc.ClickHouse.Addr = cfg.Store.ClickHouse.Addr
	sc.ClickHouse.Database = cfg.Store.ClickHouse.Database
	sc.ClickHouse.Username = cfg.Store.ClickHouse.Username
	sc.ClickHouse.Password = cfg.Store.ClickHouse.Password
	return sc
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return store.Open(ctx, storeConfig(cfg), logger.With("store"))
}

func alertConfig(cfg *config.Config) alert.Config {
	return alert.Config{
		Broker:   cfg.Alerts.Broker,
		ClientID: cfg.Alerts.ClientID,
		Username: cfg.Alerts.Username,
		Password: cfg.Alerts.Password,
		Topic:    cfg.Alerts.Topic,
		QoS:      1,
	}
}
