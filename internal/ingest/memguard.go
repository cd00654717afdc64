package ingest

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/model"
)

// autoLimitFraction is the share of physical memory used when no explicit
// limit is configured.
const autoLimitFraction = 0.8

// MemoryGuard compares the process resident set size against a limit. A
// nil guard never trips.
type MemoryGuard struct {
	limit uint64
	rss   func() (uint64, error)
}

// NewMemoryGuard builds a guard for limitMB: a positive value is an explicit
// limit in MiB, zero derives the limit from physical memory, and a negative
// value disables the guard (nil result).
func NewMemoryGuard(limitMB int) (*MemoryGuard, error) {
	if limitMB < 0 {
		return nil, nil
	}

	var limit uint64
	if limitMB > 0 {
		limit = uint64(limitMB) << 20
	} else {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read system memory")
		}
		limit = uint64(float64(vm.Total) * autoLimitFraction)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: inspect own process")
	}
	rss := func() (uint64, error) {
		mi, err := proc.MemoryInfo()
		if err != nil {
			return 0, err
		}
		return mi.RSS, nil
	}
	return &MemoryGuard{limit: limit, rss: rss}, nil
}

// Limit returns the limit in bytes.
func (g *MemoryGuard) Limit() uint64 {
	if g == nil {
		return 0
	}
	return g.limit
}

// Check returns a MemoryExhaustionError when RSS exceeds the limit. An
// unreadable RSS is logged and ignored.
func (g *MemoryGuard) Check(key model.PartitionKey) error {
	if g == nil {
		return nil
	}
	rss, err := g.rss()
	if err != nil {
		zap.L().Debug("memory guard: rss unavailable", zap.Error(err))
		return nil
	}
	if rss > g.limit {
		return &MemoryExhaustionError{Partition: key, RSSBytes: rss, LimitBytes: g.limit}
	}
	return nil
}
