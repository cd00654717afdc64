package main

import (
	"context"
	"time"

	"github.com/sells-group/pricepaid/internal/credential"
	"github.com/sells-group/pricepaid/internal/ingest"
	"github.com/sells-group/pricepaid/internal/resilience"
	"github.com/sells-group/pricepaid/internal/source"
	"github.com/sells-group/pricepaid/internal/store"
)

// openTable connects to the configured destination table.
func openTable(ctx context.Context) (store.Table, error) {
	token, err := credential.FromConfig(cfg.Destination.Credential)
	if err != nil {
		return nil, err
	}

	return store.Open(ctx, store.Options{
		Driver:   cfg.Destination.Driver,
		DSN:      cfg.Destination.DSN,
		Table:    cfg.Destination.Table,
		MaxConns: cfg.Destination.MaxConns,
		MinConns: cfg.Destination.MinConns,
		Token:    token,
	})
}

// openMigratedTable opens the destination and applies its schema.
func openMigratedTable(ctx context.Context) (store.Table, error) {
	tbl, err := openTable(ctx)
	if err != nil {
		return nil, err
	}
	if err := tbl.Migrate(ctx); err != nil {
		_ = tbl.Close()
		return nil, err
	}
	return tbl, nil
}

// openSource builds the configured record source.
func openSource() (*source.Source, error) {
	format, err := source.ParseFormat(cfg.Source.Format)
	if err != nil {
		return nil, err
	}

	return source.New(source.Options{
		Pattern:      cfg.Source.Pattern,
		Format:       format,
		Encoding:     cfg.Source.Encoding,
		S3Region:     cfg.Source.S3Region,
		TempDir:      cfg.Source.TempDir,
		ParquetChunk: cfg.Source.ParquetChunk,
	})
}

// pipelineConfig translates the pipeline section into ingest settings.
func pipelineConfig() (ingest.Config, error) {
	policy, err := ingest.ParseErrorPolicy(cfg.Pipeline.OnDestinationError)
	if err != nil {
		return ingest.Config{}, err
	}

	guard, err := ingest.NewMemoryGuard(cfg.Pipeline.MemoryLimitMB)
	if err != nil {
		return ingest.Config{}, err
	}

	return ingest.Config{
		BatchSize:            cfg.Pipeline.BatchSize,
		ExcludePropertyTypes: cfg.Pipeline.ExcludePropertyTypes,
		OnDestinationError:   policy,
		Retry: resilience.FromSettings(
			cfg.Pipeline.RetryAttempts,
			time.Duration(cfg.Pipeline.RetryBackoffMs)*time.Millisecond,
			time.Duration(cfg.Pipeline.RetryMaxBackoffMs)*time.Millisecond,
		),
		Guard: guard,
	}, nil
}
