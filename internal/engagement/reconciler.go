package engagement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"social-service/internal/models"
	"social-service/internal/observability"
	"social-service/internal/repositories"
)

// Reconciler recomputes denormalized like counters from engagement records.
type Reconciler struct {
	records  repositories.EngagementRepository
	targets  repositories.TargetRepository
	interval time.Duration
	batch    int
	log      *zap.Logger
}

// NewReconciler constructs Reconciler.
func NewReconciler(records repositories.EngagementRepository, targets repositories.TargetRepository, interval time.Duration, batch int, log *zap.Logger) *Reconciler {
	if batch <= 0 {
		batch = 500
	}
	return &Reconciler{records: records, targets: targets, interval: interval, batch: batch, log: log.Named("reconciler")}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			corrected, err := r.ReconcileAll(ctx)
			if err != nil {
				r.log.Warn("reconciliation pass failed", zap.Int("corrected", corrected), zap.Error(err))
				continue
			}
			r.log.Info("reconciliation pass finished", zap.Int("corrected", corrected))
		}
	}
}

// ReconcileAll walks every post and comment and returns how many counters
// were corrected.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	corrected := 0
	for _, targetType := range []models.TargetType{models.TargetPost, models.TargetComment} {
		after := ""
		for {
			page, err := r.targets.ScanTargets(ctx, targetType, after, r.batch)
			if err != nil {
				return corrected, err
			}
			for _, target := range page {
				fixed, err := r.reconcile(ctx, target)
				if err != nil {
					return corrected, err
				}
				if fixed {
					corrected++
				}
			}
			if len(page) < r.batch {
				break
			}
			after = page[len(page)-1].ID
		}
	}
	return corrected, nil
}

// ReconcileTarget corrects a single target and reports whether it drifted.
func (r *Reconciler) ReconcileTarget(ctx context.Context, targetID string, targetType models.TargetType) (bool, error) {
	target, err := r.targets.GetTarget(ctx, targetID, targetType)
	if err != nil {
		return false, err
	}
	return r.reconcile(ctx, target)
}

func (r *Reconciler) reconcile(ctx context.Context, target repositories.Target) (bool, error) {
	count, err := r.records.Count(ctx, target.ID, target.Type)
	if err != nil {
		return false, err
	}
	if count == target.LikesCount {
		return false, nil
	}
	swapped, err := r.targets.SetLikes(ctx, target.ID, target.Type, target.LikesCount, count)
	if err != nil {
		return false, err
	}
	if !swapped {
		// a toggle moved the counter since the scan; the next pass re-checks it
		r.log.Debug("likes counter changed during reconcile",
			zap.String("target_id", target.ID), zap.Int64("read", target.LikesCount))
		return false, nil
	}
	observability.IncReconcileCorrection(string(target.Type))
	r.log.Debug("likes counter corrected",
		zap.String("target_id", target.ID), zap.Int64("was", target.LikesCount), zap.Int64("now", count))
	return true, nil
}
