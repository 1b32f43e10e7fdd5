package app

import (
	"context"
	"errors"
	"testing"
)

func TestComputeHonorScore(t *testing.T) {
	cases := []struct {
		name      string
		completed int64
		failed    int64
		want      float64
	}{
		{"no history defaults", 0, 0, 4.0},
		{"perfect record", 10, 0, 5.0},
		{"all failed", 0, 4, 0.0},
		{"three of four", 3, 1, 3.8},
		{"two thirds", 2, 1, 3.3},
		{"half", 1, 1, 2.5},
		{"rounds up", 5, 1, 4.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeHonorScore(tc.completed, tc.failed)
			if got != tc.want {
				t.Fatalf("ComputeHonorScore(%d, %d) = %v, want %v", tc.completed, tc.failed, got, tc.want)
			}
		})
	}
}

func TestHonorScorePassUpdatesEveryUser(t *testing.T) {
	repo := newFakeRepository()
	repo.outcomes["user_reliable"] = [2]int64{9, 1}
	repo.outcomes["user_new"] = [2]int64{0, 0}
	repo.outcomes["user_flaky"] = [2]int64{1, 3}

	aggregator := NewHonorScoreAggregator(repo, testLogger())
	if err := aggregator.Run(context.Background()); err != nil {
		t.Fatalf("honor score pass failed: %v", err)
	}

	want := map[string]float64{
		"user_reliable": 4.5,
		"user_new":      4.0,
		"user_flaky":    1.3,
	}
	for userID, score := range want {
		if got := repo.honorScores[userID]; got != score {
			t.Fatalf("user %s: score %v, want %v", userID, got, score)
		}
	}
}

func TestHonorScorePassContinuesAfterUserFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.outcomes["user_broken"] = [2]int64{5, 0}
	repo.outcomes["user_ok"] = [2]int64{5, 0}
	repo.countErr["user_broken"] = errors.New("aggregate timed out")

	aggregator := NewHonorScoreAggregator(repo, testLogger())
	if err := aggregator.Run(context.Background()); err != nil {
		t.Fatalf("honor score pass failed: %v", err)
	}

	if _, ok := repo.honorScores["user_broken"]; ok {
		t.Fatal("broken user should not have been scored")
	}
	if got := repo.honorScores["user_ok"]; got != 5.0 {
		t.Fatalf("healthy user score %v, want 5.0", got)
	}
}
