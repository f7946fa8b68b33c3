// Package app assembles data sources, the completion client, the pipeline and
// the dispatcher from a loaded config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nldbquery/nldbquery/internal/config"
	"github.com/nldbquery/nldbquery/internal/datasource"
	"github.com/nldbquery/nldbquery/internal/datasource/lake"
	"github.com/nldbquery/nldbquery/internal/dispatch"
	"github.com/nldbquery/nldbquery/internal/nl2sql"
	"github.com/nldbquery/nldbquery/internal/pipeline"
	s3store "github.com/nldbquery/nldbquery/internal/storage/s3"
)

type Runtime struct {
	Registry   *datasource.Registry
	Service    *pipeline.Service
	Dispatcher *dispatch.Dispatcher
}

// Build opens every configured data source and wires the pipeline. Sources that
// were opened are closed again when a later step fails.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	registry, err := OpenSources(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	completer, err := nl2sql.NewCompleter(nl2sql.CompleterConfig{
		Provider:      cfg.AI.Provider,
		BaseURL:       cfg.AI.BaseURL,
		APIKey:        cfg.AI.APIKey,
		Model:         cfg.AI.Model,
		Temperature:   cfg.AI.Temperature,
		Timeout:       cfg.AI.Timeout,
		RatePerSecond: cfg.AI.RatePerSecond,
		Burst:         cfg.AI.Burst,
	})
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("init completion provider: %w", err)
	}
	if completer == nil {
		logger.Warn("no completion provider configured; questions will fail at sql synthesis")
	}

	service, err := pipeline.NewService(pipeline.Options{
		Registry:     registry,
		Completer:    completer,
		Logger:       logger,
		QueryTimeout: cfg.Query.Timeout,
		MaxRows:      cfg.Query.MaxRows,
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	return &Runtime{
		Registry: registry,
		Service:  service,
		Dispatcher: dispatch.New(service,
			dispatch.WithLogger(logger),
			dispatch.WithAuthorization(cfg.Auth.Required),
		),
	}, nil
}

func (r *Runtime) Close() error {
	return r.Registry.Close()
}

// OpenSources registers one handle per configured data source.
func OpenSources(ctx context.Context, cfg config.Config, logger *slog.Logger) (*datasource.Registry, error) {
	sources, err := cfg.DataSources()
	if err != nil {
		return nil, err
	}
	registry := datasource.NewRegistry()
	for _, spec := range sources {
		source, err := openSource(ctx, spec)
		if err == nil {
			err = registry.Register(source)
			if err != nil {
				_ = source.Close()
			}
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("data source %s: %w", spec.Name, err), registry.Close())
		}
		info := source.Info()
		logger.Info("data source registered",
			slog.String("database", info.Name),
			slog.String("driver", info.Dialect),
			slog.String("url", info.URL),
		)
	}
	if len(registry.Names()) == 0 {
		logger.Warn("no data sources configured")
	}
	return registry, nil
}

func openSource(ctx context.Context, spec config.DataSource) (datasource.Source, error) {
	if spec.Lake != nil {
		maxObjectBytes, err := spec.Lake.MaxObjectBytes()
		if err != nil {
			return nil, err
		}
		store, err := s3store.New(s3store.Config{
			Endpoint:        spec.Lake.Endpoint,
			Region:          spec.Lake.Region,
			Bucket:          spec.Lake.Bucket,
			AccessKeyID:     spec.Lake.AccessKeyID,
			SecretAccessKey: spec.Lake.SecretAccessKey,
			UseSSL:          spec.Lake.UseSSL,
			Prefix:          spec.Lake.Prefix,
			MaxObjectBytes:  maxObjectBytes,
		})
		if err != nil {
			return nil, err
		}
		return lake.New(spec.Name, store.Location(), store)
	}
	return datasource.Open(ctx, datasource.Config{
		Name:            spec.Name,
		URL:             spec.URL,
		Driver:          spec.Driver,
		MaxOpenConns:    spec.MaxOpenConns,
		ConnMaxLifetime: spec.ConnMaxLifetime,
		PingTimeout:     spec.Timeout,
	})
}
