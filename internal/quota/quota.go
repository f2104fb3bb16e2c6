// Package quota enforces per-file and per-account storage limits.
package quota

import (
	"context"
	"fmt"

	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

// UsageSource reports current storage usage for an owner.
type UsageSource interface {
	AggregateStats(ctx context.Context, ownerID string) (*drive.StorageStats, error)
}

// Enforcer checks uploads against configured ceilings. It keeps no usage
// state of its own; capacity checks re-derive usage from the source on every
// call, so concurrent uploads may both pass the same check.
type Enforcer struct {
	usage         UsageSource
	maxFileBytes  int64
	maxTotalBytes int64
}

// NewEnforcer creates an Enforcer. A limit of 0 means unlimited.
func NewEnforcer(usage UsageSource, maxFileBytes, maxTotalBytes int64) *Enforcer {
	return &Enforcer{
		usage:         usage,
		maxFileBytes:  maxFileBytes,
		maxTotalBytes: maxTotalBytes,
	}
}

// CheckFileSize rejects files above the per-file ceiling.
func (e *Enforcer) CheckFileSize(size int64) error {
	if e.maxFileBytes > 0 && size > e.maxFileBytes {
		metrics.RecordQuotaRejection("file_size")
		return &drive.FileTooLargeError{Size: size, Limit: e.maxFileBytes}
	}
	return nil
}

// CheckCapacity rejects uploads that would push the owner's total usage past
// the account ceiling.
func (e *Enforcer) CheckCapacity(ctx context.Context, ownerID string, additional int64) error {
	if e.maxTotalBytes <= 0 {
		return nil
	}

	stats, err := e.usage.AggregateStats(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("aggregate usage for %s: %w", ownerID, err)
	}

	if stats.TotalBytes+additional > e.maxTotalBytes {
		metrics.RecordQuotaRejection("storage")
		return &drive.QuotaExceededError{
			Used:      stats.TotalBytes,
			Requested: additional,
			Limit:     e.maxTotalBytes,
		}
	}
	return nil
}
