// Package ingest loads price paid records from a source into a destination
// table one partition at a time, replacing each partition atomically.
package ingest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/model"
	"github.com/sells-group/pricepaid/internal/resilience"
	"github.com/sells-group/pricepaid/internal/source"
	"github.com/sells-group/pricepaid/internal/store"
)

// DefaultBatchSize is the number of records buffered between writes.
const DefaultBatchSize = 5000

// DefaultExcludedPropertyTypes lists property types dropped by default
// ("O" is "other": commercial and non-residential sales).
var DefaultExcludedPropertyTypes = []string{"O"}

// ErrorPolicy decides what happens after a destination write fails.
type ErrorPolicy string

const (
	// PolicySkip records the failure and moves on to the next partition.
	PolicySkip ErrorPolicy = "skip"
	// PolicyAbort stops the run at the first destination failure.
	PolicyAbort ErrorPolicy = "abort"
)

// ParseErrorPolicy validates a policy name. Empty means skip.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicySkip, nil
	case PolicySkip, PolicyAbort:
		return p, nil
	default:
		return "", eris.Errorf("ingest: unknown destination error policy %q (valid: skip, abort)", s)
	}
}

// Source streams the records of one partition.
type Source interface {
	Scan(ctx context.Context, f source.Filter, fn func(model.Record) error) (source.Stats, error)
}

// Destination opens partition replacements.
type Destination interface {
	Name() string
	BeginPartition(ctx context.Context, key model.PartitionKey) (store.PartitionWriter, error)
}

// Config holds the pipeline settings. Nothing is read from globals.
type Config struct {
	BatchSize            int
	ExcludePropertyTypes []string // nil selects DefaultExcludedPropertyTypes
	OnDestinationError   ErrorPolicy
	Retry                resilience.RetryConfig
	Guard                *MemoryGuard // nil disables the memory limit
}

// Outcome is the result of processing one partition.
type Outcome struct {
	RunID   string
	Key     model.PartitionKey
	Rows    int64 // rows written
	Deleted int64 // rows the partition held before replacement
	Read    int64 // source rows examined
	Elapsed time.Duration
	Err     error
}

// OK reports whether the partition was replaced.
func (o Outcome) OK() bool { return o.Err == nil }

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID     string
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Rows      int64
}

// Pipeline replaces destination partitions with freshly read source rows.
type Pipeline struct {
	src    Source
	dst    Destination
	runLog store.RunLog
	cfg    Config
}

// New builds a pipeline. runLog may be nil.
func New(cfg Config, src Source, dst Destination, runLog store.RunLog) (*Pipeline, error) {
	if src == nil || dst == nil {
		return nil, eris.New("ingest: source and destination are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ExcludePropertyTypes == nil {
		cfg.ExcludePropertyTypes = DefaultExcludedPropertyTypes
	}
	policy, err := ParseErrorPolicy(string(cfg.OnDestinationError))
	if err != nil {
		return nil, err
	}
	cfg.OnDestinationError = policy
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Pipeline{src: src, dst: dst, runLog: runLog, cfg: cfg}, nil
}

// Run processes keys in order and yields one outcome per partition. Work
// happens lazily as the sequence is consumed; breaking out of the loop
// stops before the next partition. The sequence ends early after a memory
// exhaustion, a cancelled context, or a destination failure under
// PolicyAbort; the failing partition's outcome is still yielded.
func (p *Pipeline) Run(ctx context.Context, keys []model.PartitionKey) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		runID := uuid.New().String()
		log := zap.L().With(
			zap.String("component", "ingest.pipeline"),
			zap.String("run_id", runID),
			zap.String("table", p.dst.Name()),
		)

		for _, key := range keys {
			if ctx.Err() != nil {
				return
			}

			o := p.processPartition(ctx, log.With(zap.Stringer("partition", key)), runID, key)
			o.RunID = runID
			if !yield(o) || p.stops(ctx, o.Err) {
				return
			}
		}
	}
}

// RunAll drains Run, logging each outcome. The returned error is the one
// that stopped the run early, if any; per-partition failures that did not
// stop it are only reported in the summary.
func (p *Pipeline) RunAll(ctx context.Context, keys []model.PartitionKey) (Summary, error) {
	log := zap.L().With(zap.String("component", "ingest.pipeline"))
	var (
		s     Summary
		fatal error
	)

	for o := range p.Run(ctx, keys) {
		s.RunID = o.RunID
		s.Outcomes = append(s.Outcomes, o)
		if o.OK() {
			s.Succeeded++
			s.Rows += o.Rows
			continue
		}
		s.Failed++
		if p.stops(ctx, o.Err) {
			fatal = o.Err
		}
	}
	if fatal == nil && ctx.Err() != nil && len(s.Outcomes) < len(keys) {
		fatal = eris.Wrap(ctx.Err(), "ingest: run interrupted")
	}

	log.Info("ingest run complete",
		zap.Int("partitions", len(keys)),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int64("rows", s.Rows),
	)
	return s, fatal
}

// stops reports whether err ends the run.
func (p *Pipeline) stops(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) || ctx.Err() != nil {
		return true
	}
	var dstErr *DestinationWriteError
	return p.cfg.OnDestinationError == PolicyAbort && errors.As(err, &dstErr)
}

func (p *Pipeline) processPartition(ctx context.Context, log *zap.Logger, runID string, key model.PartitionKey) Outcome {
	start := time.Now()
	log.Info("replacing partition")

	var entry *model.RunEntry
	if p.runLog != nil {
		var err error
		if entry, err = p.runLog.StartRun(ctx, runID, key); err != nil {
			log.Warn("failed to record partition start", zap.Error(err))
		}
	}

	retry := p.cfg.Retry
	retry.ShouldRetry = retryableWrite
	retry.OnRetry = resilience.RetryLogger("replace partition", int(key))

	var res replaceResult
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		var err error
		res, err = p.replace(ctx, key)
		return err
	})

	o := Outcome{Key: key, Rows: res.written, Deleted: res.deleted, Read: res.read, Elapsed: time.Since(start), Err: err}
	if err != nil {
		o.Rows, o.Deleted = 0, 0
		log.Error("partition failed", zap.Error(err), zap.Duration("elapsed", o.Elapsed))
		if entry != nil {
			if logErr := p.runLog.FailRun(context.WithoutCancel(ctx), entry.ID, err); logErr != nil {
				log.Warn("failed to record partition failure", zap.Error(logErr))
			}
		}
		return o
	}

	log.Info("partition replaced",
		zap.Int64("rows", o.Rows),
		zap.Int64("replaced", o.Deleted),
		zap.Int64("read", o.Read),
		zap.Duration("elapsed", o.Elapsed),
	)
	if entry != nil {
		if logErr := p.runLog.CompleteRun(ctx, entry.ID, o.Rows); logErr != nil {
			log.Warn("failed to record partition completion", zap.Error(logErr))
		}
	}
	return o
}

// retryableWrite retries transient destination failures only. Replaying a
// partition is safe because the replacement starts from a delete.
func retryableWrite(err error) bool {
	var dstErr *DestinationWriteError
	return errors.As(err, &dstErr) && resilience.IsTransient(dstErr.Err)
}

type replaceResult struct {
	written int64
	deleted int64
	read    int64
}

// replace streams one partition from the source into an open destination
// transaction, batch by batch, and commits only if every batch was written.
func (p *Pipeline) replace(ctx context.Context, key model.PartitionKey) (replaceResult, error) {
	var res replaceResult

	w, err := p.dst.BeginPartition(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "ingest: cancelled")
		}
		return res, &DestinationWriteError{Partition: key, Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := w.Rollback(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("rollback failed", zap.Stringer("partition", key), zap.Error(err))
		}
	}()

	batch := make([]model.Record, 0, p.cfg.BatchSize)
	var stopErr error
	flush := func() error {
		if len(batch) > 0 {
			if err := w.Write(ctx, batch); err != nil {
				stopErr = &DestinationWriteError{Partition: key, Err: err}
				return stopErr
			}
			clear(batch)
			batch = batch[:0]
		}
		if err := p.cfg.Guard.Check(key); err != nil {
			stopErr = err
			return err
		}
		return nil
	}

	stats, err := p.src.Scan(ctx, source.Filter{Partition: key, ExcludePropertyTypes: p.cfg.ExcludePropertyTypes},
		func(r model.Record) error {
			batch = append(batch, r)
			if len(batch) >= p.cfg.BatchSize {
				return flush()
			}
			return nil
		})
	res.read = stats.RowsRead
	switch {
	case err != nil && stopErr != nil:
		return res, stopErr
	case err != nil && ctx.Err() != nil:
		return res, eris.Wrap(ctx.Err(), "ingest: cancelled")
	case err != nil:
		return res, &SourceReadError{Partition: key, Err: err}
	}

	if err := flush(); err != nil {
		return res, err
	}
	if err := w.Commit(ctx); err != nil {
		return res, &DestinationWriteError{Partition: key, Err: err}
	}
	committed = true

	res.written = w.Written()
	res.deleted = w.Deleted()
	return res, nil
}
