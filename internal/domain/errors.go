package domain

import "errors"

var (
	// ErrAlreadyStarted is returned when a user already has an attempt for the competition.
	ErrAlreadyStarted = errors.New("attempt already started")
	// ErrCompetitionNotActive is returned when the competition is not accepting attempts.
	ErrCompetitionNotActive = errors.New("competition is not active")
	// ErrAttemptClosed is returned when an attempt was submitted or ran past its time limit.
	ErrAttemptClosed = errors.New("attempt is closed")
	// ErrAttemptNotFound is returned when no attempt matches the lookup.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrCompetitionNotFound is returned when no competition matches the lookup.
	ErrCompetitionNotFound = errors.New("competition not found")
	// ErrInvalidCompetition wraps validation failures on competition input.
	ErrInvalidCompetition = errors.New("invalid competition")
	// ErrInvalidAnswer indicates a question or option index outside the snapshot.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrQuestionBankNotFound indicates no questions exist for a competition.
	ErrQuestionBankNotFound = errors.New("question bank not found")
	// ErrInvalidQuestionBank wraps validation failures on a question bank upload.
	ErrInvalidQuestionBank = errors.New("invalid question bank")
	// ErrNotificationNotFound is returned when no notification matches the lookup.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrUserNotFound is returned by user directories for unknown ids.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailNotFound is returned when no queued email matches the lookup.
	ErrEmailNotFound = errors.New("email not found")
	// ErrDeliveryFailed marks a transient mail transport failure; the entry is retried.
	ErrDeliveryFailed = errors.New("email delivery failed")
	// ErrUndeliverable marks a message no retry can fix, such as a malformed
	// address; the entry fails without further attempts.
	ErrUndeliverable = errors.New("email undeliverable")
	// ErrDeliveryExhausted marks an entry that ran out of retries and needs an operator.
	ErrDeliveryExhausted = errors.New("email delivery retries exhausted")
)
