package maintenance

import (
	"context"
	"time"

	"github.com/mapalinear/mapalinear/pkg/logger"
	"github.com/mapalinear/mapalinear/pkg/metrics"
	"go.uber.org/zap"
)

const (
	// oldOperationAge is how long terminal operations are kept
	oldOperationAge = 24 * time.Hour
	// staleOperationAge force-fails operations stuck in progress
	staleOperationAge = 2 * time.Hour
)

// POIStore is the slice of the POI repository maintenance needs
type POIStore interface {
	CountOrphans(ctx context.Context) (int64, error)
	DeleteOrphans(ctx context.Context) (int64, error)
	RepairReferenced(ctx context.Context) (int64, error)
}

// SegmentStore is the slice of the segment repository maintenance needs
type SegmentStore interface {
	CountOrphans(ctx context.Context) (int64, error)
	DeleteOrphans(ctx context.Context) (int64, error)
}

// OperationStore is the slice of the operations store maintenance needs
type OperationStore interface {
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)
	CleanupStale(ctx context.Context, inProgressFor time.Duration) (int64, error)
}

// CacheStore is the slice of the geo cache maintenance needs
type CacheStore interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Service runs the periodic and administered cleanup tasks. Every task is
// idempotent and supports a dry run that only counts.
type Service struct {
	pois     POIStore
	segments SegmentStore
	ops      OperationStore
	cache    CacheStore
}

// NewService creates a maintenance service
func NewService(pois POIStore, segments SegmentStore, ops OperationStore, cache CacheStore) *Service {
	return &Service{pois: pois, segments: segments, ops: ops, cache: cache}
}

// TaskResult reports what one maintenance task did (or would do)
type TaskResult struct {
	Task     string `json:"task"`
	DryRun   bool   `json:"dry_run"`
	Affected int64  `json:"affected"`
}

// CleanupOrphanPOIs removes POIs no map references
func (s *Service) CleanupOrphanPOIs(ctx context.Context, dryRun bool) (*TaskResult, error) {
	result := &TaskResult{Task: "orphan_pois", DryRun: dryRun}
	var err error
	if dryRun {
		result.Affected, err = s.pois.CountOrphans(ctx)
	} else {
		result.Affected, err = s.pois.DeleteOrphans(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.report(ctx, result)
	return result, nil
}

// CleanupOrphanSegments removes route segments no map uses
func (s *Service) CleanupOrphanSegments(ctx context.Context, dryRun bool) (*TaskResult, error) {
	result := &TaskResult{Task: "orphan_segments", DryRun: dryRun}
	var err error
	if dryRun {
		result.Affected, err = s.segments.CountOrphans(ctx)
	} else {
		result.Affected, err = s.segments.DeleteOrphans(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.report(ctx, result)
	return result, nil
}

// RepairPOIReferences makes is_referenced agree with map_pois in both
// directions. The dry run reports nothing to fix without writing.
func (s *Service) RepairPOIReferences(ctx context.Context, dryRun bool) (*TaskResult, error) {
	result := &TaskResult{Task: "repair_references", DryRun: dryRun}
	if dryRun {
		return result, nil
	}
	affected, err := s.pois.RepairReferenced(ctx)
	if err != nil {
		return nil, err
	}
	result.Affected = affected
	s.report(ctx, result)
	return result, nil
}

// CleanupOperations removes old terminal operations and force-fails stale
// in-progress ones
func (s *Service) CleanupOperations(ctx context.Context, dryRun bool) (*TaskResult, error) {
	result := &TaskResult{Task: "operations", DryRun: dryRun}
	if dryRun {
		return result, nil
	}
	removed, err := s.ops.CleanupOld(ctx, oldOperationAge)
	if err != nil {
		return nil, err
	}
	failed, err := s.ops.CleanupStale(ctx, staleOperationAge)
	if err != nil {
		return nil, err
	}
	result.Affected = removed + failed
	s.report(ctx, result)
	return result, nil
}

// CleanupExpiredCache removes cache rows past their TTL
func (s *Service) CleanupExpiredCache(ctx context.Context, dryRun bool) (*TaskResult, error) {
	result := &TaskResult{Task: "cache_expiry", DryRun: dryRun}
	if dryRun {
		return result, nil
	}
	affected, err := s.cache.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}
	result.Affected = affected
	s.report(ctx, result)
	return result, nil
}

// RunAll executes every maintenance task in dependency order: references
// are repaired before orphans are judged. Individual task failures are
// logged and do not stop the sweep.
func (s *Service) RunAll(ctx context.Context, dryRun bool) []TaskResult {
	tasks := []func(context.Context, bool) (*TaskResult, error){
		s.RepairPOIReferences,
		s.CleanupOrphanPOIs,
		s.CleanupOrphanSegments,
		s.CleanupOperations,
		s.CleanupExpiredCache,
	}

	var results []TaskResult
	for _, task := range tasks {
		result, err := task(ctx, dryRun)
		if err != nil {
			logger.WarnContext(ctx, "maintenance task failed", zap.Error(err))
			continue
		}
		results = append(results, *result)
	}
	return results
}

// RunPeriodic blocks running the full sweep at the given interval until
// the context is cancelled
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "maintenance loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "maintenance loop stopped")
			return
		case <-ticker.C:
			s.RunAll(ctx, false)
		}
	}
}

func (s *Service) report(ctx context.Context, result *TaskResult) {
	action := "delete"
	if result.DryRun {
		action = "dry_run"
	}
	metrics.RecordMaintenance(result.Task, action, int(result.Affected))
	if result.Affected > 0 {
		logger.InfoContext(ctx, "maintenance task finished",
			zap.String("task", result.Task),
			zap.Bool("dry_run", result.DryRun),
			zap.Int64("affected", result.Affected),
		)
	}
}
