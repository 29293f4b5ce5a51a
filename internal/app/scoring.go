package app

import (
	"sort"
	"time"

	"competition-service/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Score returns the percentage of correct answers rounded to one decimal.
// Unanswered questions count as incorrect.
func Score(questions []domain.Question, answers map[int]int) float64 {
	if len(questions) == 0 {
		return 0
	}
	correct := 0
	for i, q := range questions {
		if selected, ok := answers[i]; ok && selected == q.CorrectIndex {
			correct++
		}
	}
	pct := decimal.NewFromInt(int64(correct)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(len(questions)))).
		Round(1)
	f, _ := pct.Float64()
	return f
}

// RankInput is one entry to rank.
type RankInput struct {
	Score    float64
	Duration time.Duration
}

// Rank orders entries by score descending then duration ascending. Each
// entry's rank is one plus the number of entries strictly ahead of it, so
// entries with equal score and duration share a rank: scores 90,90,80,70
// rank 1,1,3,4.
func Rank(entries []RankInput) []int {
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return ahead(entries[order[i]], entries[order[j]])
	})

	ranks := make([]int, len(entries))
	for pos, idx := range order {
		if pos > 0 && !ahead(entries[order[pos-1]], entries[idx]) {
			ranks[idx] = ranks[order[pos-1]]
			continue
		}
		ranks[idx] = pos + 1
	}
	return ranks
}

func ahead(a, b RankInput) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Duration < b.Duration
}

// RankAttempts closes open attempts at at, rescoring every attempt from its
// stored answers, and assigns ranks and points.
func RankAttempts(attempts []domain.Attempt, at time.Time, points PointsTable) []domain.AttemptResult {
	results := make([]domain.AttemptResult, len(attempts))
	inputs := make([]RankInput, len(attempts))
	for i, a := range attempts {
		submittedAt := a.ClampToDeadline(at)
		outcome := domain.OutcomeExpired
		if a.SubmittedAt != nil {
			submittedAt = *a.SubmittedAt
			outcome = a.Outcome
			if outcome == domain.OutcomeNone {
				outcome = domain.OutcomeSubmitted
			}
		}
		score := Score(a.Questions, a.Answers)
		results[i] = domain.AttemptResult{
			AttemptID:   a.ID,
			SubmittedAt: submittedAt,
			Outcome:     outcome,
			Score:       score,
		}
		inputs[i] = RankInput{Score: score, Duration: submittedAt.Sub(a.StartedAt)}
	}
	for i, rank := range Rank(inputs) {
		results[i].Rank = rank
		results[i].PointsEarned = points.Points(rank, results[i].Score)
	}
	return results
}
