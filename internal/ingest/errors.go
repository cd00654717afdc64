package ingest

import (
	"errors"
	"fmt"

	"github.com/sells-group/pricepaid/internal/model"
)

// SourceReadError reports a partition whose source could not be read: no
// matching files, an unreadable object, malformed data or an unsupported
// location. The destination is left unchanged.
type SourceReadError struct {
	Partition model.PartitionKey
	Err       error
}

func (e *SourceReadError) Error() string {
	if e.Partition == 0 {
		return fmt.Sprintf("source read failed: %v", e.Err)
	}
	return fmt.Sprintf("source read failed for partition %s: %v", e.Partition, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// DestinationWriteError reports a failed write, commit or connection to the
// destination. The partition's transaction is rolled back.
type DestinationWriteError struct {
	Partition model.PartitionKey
	Err       error
}

func (e *DestinationWriteError) Error() string {
	if e.Partition == 0 {
		return fmt.Sprintf("destination write failed: %v", e.Err)
	}
	return fmt.Sprintf("destination write failed for partition %s: %v", e.Partition, e.Err)
}

func (e *DestinationWriteError) Unwrap() error { return e.Err }

// MemoryExhaustionError reports that process memory passed the configured
// limit while loading a partition. It stops the run.
type MemoryExhaustionError struct {
	Partition  model.PartitionKey
	RSSBytes   uint64
	LimitBytes uint64
}

func (e *MemoryExhaustionError) Error() string {
	return fmt.Sprintf("memory exhausted loading partition %s: rss %d MiB exceeds limit %d MiB",
		e.Partition, e.RSSBytes>>20, e.LimitBytes>>20)
}

// IsFatal reports whether err stops the run regardless of error policy.
func IsFatal(err error) bool {
	var memErr *MemoryExhaustionError
	return errors.As(err, &memErr)
}
