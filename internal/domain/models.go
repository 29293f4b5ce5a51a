package domain

import "time"

// Competition is a timed, scored assessment that runs between StartDate and EndDate.
type Competition struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	StartDate        time.Time  `json:"startDate"`
	EndDate          time.Time  `json:"endDate"`
	TimeLimitMinutes int        `json:"timeLimitMinutes"`
	QuestionCount    int        `json:"questionCount"`
	FinalizedAt      *time.Time `json:"finalizedAt,omitempty"`
	// ResultsDispatchedAt is set once rewards and results notifications were issued.
	ResultsDispatchedAt *time.Time `json:"resultsDispatchedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// TimeLimit is the per-attempt time budget.
func (c Competition) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitMinutes) * time.Minute
}

// Finalized reports whether scoring has run.
func (c Competition) Finalized() bool {
	return c.FinalizedAt != nil
}

// Status derives the lifecycle state at now.
func (c Competition) Status(now time.Time) CompetitionStatus {
	return DeriveStatus(c, now, c.Finalized())
}

// Question is a multiple choice question. CorrectIndex is frozen into attempt snapshots.
type Question struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// QuestionView is a question without its answer key.
type QuestionView struct {
	Index   int      `json:"index"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// AttemptOutcome records how an attempt was closed.
type AttemptOutcome string

const (
	OutcomeNone      AttemptOutcome = ""
	OutcomeSubmitted AttemptOutcome = "submitted"
	OutcomeExpired   AttemptOutcome = "expired"
)

// AttemptState is the derived lifecycle state of an attempt.
type AttemptState string

const (
	AttemptNotStarted AttemptState = "not_started"
	AttemptInProgress AttemptState = "in_progress"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptExpired    AttemptState = "expired"
)

// Attempt is one user's run through a competition's question snapshot.
type Attempt struct {
	ID            string
	CompetitionID string
	UserID        string
	Questions     []Question
	// Answers maps question index to selected option index; absent means unanswered.
	Answers      map[int]int
	StartedAt    time.Time
	Deadline     time.Time
	SubmittedAt  *time.Time
	Outcome      AttemptOutcome
	Score        *float64
	Rank         *int
	PointsEarned int
}

// IsOpen reports whether answers may still be recorded at now.
func (a Attempt) IsOpen(now time.Time) bool {
	return a.SubmittedAt == nil && now.Before(a.Deadline)
}

// State derives the attempt state at now. An unsubmitted attempt past its
// deadline reads as expired even before finalize closes it.
func (a Attempt) State(now time.Time) AttemptState {
	switch {
	case a.SubmittedAt != nil && a.Outcome == OutcomeExpired:
		return AttemptExpired
	case a.SubmittedAt != nil:
		return AttemptSubmitted
	case now.Before(a.Deadline):
		return AttemptInProgress
	default:
		return AttemptExpired
	}
}

// ClampToDeadline returns min(t, Deadline).
func (a Attempt) ClampToDeadline(t time.Time) time.Time {
	if t.After(a.Deadline) {
		return a.Deadline
	}
	return t
}

// Duration is the server-measured elapsed time, zero while unsubmitted.
func (a Attempt) Duration() time.Duration {
	if a.SubmittedAt == nil {
		return 0
	}
	return a.SubmittedAt.Sub(a.StartedAt)
}

// AttemptView is the client-facing projection of an attempt.
type AttemptView struct {
	ID               string         `json:"id"`
	CompetitionID    string         `json:"competitionId"`
	UserID           string         `json:"userId"`
	State            AttemptState   `json:"state"`
	StartedAt        time.Time      `json:"startedAt"`
	Deadline         time.Time      `json:"deadline"`
	SubmittedAt      *time.Time     `json:"submittedAt,omitempty"`
	RemainingSeconds int64          `json:"remainingSeconds"`
	Questions        []QuestionView `json:"questions"`
	Answers          map[int]int    `json:"answers"`
	AnsweredCount    int            `json:"answeredCount"`
	Score            *float64       `json:"score,omitempty"`
	Rank             *int           `json:"rank,omitempty"`
	PointsEarned     int            `json:"pointsEarned"`
}

// View projects the attempt at now without correct-answer data.
func (a Attempt) View(now time.Time) AttemptView {
	questions := make([]QuestionView, len(a.Questions))
	for i, q := range a.Questions {
		questions[i] = QuestionView{Index: i, Prompt: q.Prompt, Options: append([]string(nil), q.Options...)}
	}
	answers := make(map[int]int, len(a.Answers))
	for k, v := range a.Answers {
		answers[k] = v
	}
	var remaining int64
	if a.IsOpen(now) {
		remaining = int64(a.Deadline.Sub(now).Seconds())
	}
	return AttemptView{
		ID:               a.ID,
		CompetitionID:    a.CompetitionID,
		UserID:           a.UserID,
		State:            a.State(now),
		StartedAt:        a.StartedAt,
		Deadline:         a.Deadline,
		SubmittedAt:      a.SubmittedAt,
		RemainingSeconds: remaining,
		Questions:        questions,
		Answers:          answers,
		AnsweredCount:    len(answers),
		Score:            a.Score,
		Rank:             a.Rank,
		PointsEarned:     a.PointsEarned,
	}
}

// AttemptResult is the outcome of finalize for one attempt.
type AttemptResult struct {
	AttemptID    string
	SubmittedAt  time.Time
	Outcome      AttemptOutcome
	Score        float64
	Rank         int
	PointsEarned int
}

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	UserID          string  `json:"userId"`
	AttemptID       string  `json:"attemptId"`
	Score           float64 `json:"score"`
	DurationSeconds float64 `json:"durationSeconds"`
	PointsEarned    int     `json:"pointsEarned"`
}

// Leaderboard is the ranked result set of a finalized competition.
type Leaderboard struct {
	CompetitionID string             `json:"competitionId"`
	Entries       []LeaderboardEntry `json:"entries"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// User is a profile from the user directory.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// RewardTier names a subscription credit granted to top finishers.
type RewardTier string

const (
	RewardFreeMonth RewardTier = "free_month"
	RewardHalfMonth RewardTier = "half_month"
)
