package domain

import (
	"fmt"
	"time"
)

// NotificationType is one of the three campaign events.
type NotificationType string

const (
	NotificationAdvanceNotice NotificationType = "advance_notice"
	NotificationDayOf         NotificationType = "day_of"
	NotificationResults       NotificationType = "results"
)

// Channel is where a notification is surfaced.
type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelEmail     Channel = "email"
	ChannelInApp     Channel = "in_app"
)

// Notification is a dashboard row; at most one per (competition, user, type).
type Notification struct {
	ID            string           `json:"id"`
	CompetitionID string           `json:"competitionId"`
	UserID        string           `json:"userId"`
	Type          NotificationType `json:"notificationType"`
	Channel       Channel          `json:"channel"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	IsRead        bool             `json:"isRead"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
	SentAt        time.Time        `json:"sentAt"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// EmailStatus is the outbox state of a queued email.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// EmailQueueEntry is a row in the email outbox.
type EmailQueueEntry struct {
	ID             string      `json:"id"`
	DedupeKey      string      `json:"dedupeKey"`
	RecipientEmail string      `json:"recipientEmail"`
	SenderEmail    string      `json:"senderEmail"`
	Subject        string      `json:"subject"`
	HTMLContent    string      `json:"htmlContent"`
	TextContent    string      `json:"textContent"`
	ScheduledFor   time.Time   `json:"scheduledFor"`
	NextAttemptAt  time.Time   `json:"nextAttemptAt"`
	Status         EmailStatus `json:"status"`
	RetryCount     int         `json:"retryCount"`
	LastError      string      `json:"lastError,omitempty"`
	LockedUntil    *time.Time  `json:"lockedUntil,omitempty"`
	SentAt         *time.Time  `json:"sentAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// EmailMessage is what the mail transport delivers.
type EmailMessage struct {
	Recipient string
	Sender    string
	Subject   string
	HTML      string
	Text      string
}

// Message builds the transport payload for the entry.
func (e EmailQueueEntry) Message() EmailMessage {
	return EmailMessage{
		Recipient: e.RecipientEmail,
		Sender:    e.SenderEmail,
		Subject:   e.Subject,
		HTML:      e.HTMLContent,
		Text:      e.TextContent,
	}
}

// EmailDedupeKey identifies the single email for a (competition, user, type) triple.
func EmailDedupeKey(competitionID, userID string, typ NotificationType) string {
	return fmt.Sprintf("%s:%s:%s", competitionID, userID, typ)
}
