/**
 * @description
 * The honor score aggregator. Runs weekly over all users and recomputes each
 * user's reliability score from their historical payment outcomes:
 * (completed / (completed + failed)) * 5, defaulting to 4.0 for users with no
 * history, rounded to one decimal place.
 *
 * The pass is read-many/write-one per user with no cross-user atomicity; a
 * failure on one user is logged and the pass continues.
 */

package app

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/circlepay/ledger-service/internal/store"
)

// newUserDefaultScore is assigned to users with no payment history yet.
const newUserDefaultScore = 4.0

// HonorScoreAggregator batch-computes reliability scores.
type HonorScoreAggregator struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewHonorScoreAggregator creates an aggregator.
func NewHonorScoreAggregator(repo store.Repository, logger *slog.Logger) *HonorScoreAggregator {
	return &HonorScoreAggregator{repo: repo, logger: logger, now: time.Now}
}

// Run recomputes and persists the honor score for every user.
func (h *HonorScoreAggregator) Run(ctx context.Context) error {
	userIDs, err := h.repo.ListUserIDs(ctx)
	if err != nil {
		h.logger.Error("failed to list users for honor score pass", "error", err)
		return err
	}

	var updated, failed int
	for _, userID := range userIDs {
		completed, failedCount, err := h.repo.CountTransactionOutcomes(ctx, userID)
		if err != nil {
			h.logger.Error("failed to count payment outcomes", "user_id", userID, "error", err)
			failed++
			continue
		}

		score := ComputeHonorScore(completed, failedCount)
		if err := h.repo.UpdateUserHonorScore(ctx, userID, score, h.now()); err != nil {
			h.logger.Error("failed to write honor score", "user_id", userID, "error", err)
			failed++
			continue
		}
		updated++
	}

	h.logger.Info("honor score pass finished", "users", len(userIDs), "updated", updated, "failed", failed)
	return nil
}

// ComputeHonorScore derives the 0-5 reliability score from outcome counts,
// rounded to one decimal using round-half-away-from-zero.
func ComputeHonorScore(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return newUserDefaultScore
	}
	score := float64(completed) / float64(total) * 5
	return math.Round(score*10) / 10
}
