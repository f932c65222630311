package models

import "time"

// FeedbackCode ist die Entscheidung eines Nutzers zu einem einzelnen Link.
type FeedbackCode int8

const (
	FeedbackAccepted FeedbackCode = 0
	FeedbackRejected FeedbackCode = 1
	FeedbackSkipped  FeedbackCode = 2
)

func (c FeedbackCode) String() string {
	switch c {
	case FeedbackAccepted:
		return "accepted"
	case FeedbackRejected:
		return "rejected"
	case FeedbackSkipped:
		return "skipped"
	}
	return "unknown"
}

// LinkFeedback speichert eine Nutzerentscheidung zu einem vorgeschlagenen Link.
// Zeilen werden nur angelegt, nie aktualisiert.
type LinkFeedback struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	CreatedAt      time.Time    `json:"created_at"`
	PageID         int64        `json:"page_id" gorm:"not null;index:idx_link_feedback_page_revision,priority:1;index:idx_link_feedback_page_target,priority:1"`
	RevisionID     int64        `json:"revision_id" gorm:"not null;index:idx_link_feedback_page_revision,priority:2"`
	EditRevisionID *int64       `json:"edit_revision_id,omitempty"`
	UserID         int64        `json:"user_id" gorm:"not null"`
	TargetPageID   int64        `json:"target_page_id" gorm:"not null;index:idx_link_feedback_page_target,priority:2"`
	Feedback       FeedbackCode `json:"feedback" gorm:"not null;index:idx_link_feedback_page_target,priority:3"`
	AnchorOffset   *int         `json:"anchor_offset,omitempty"`
	AnchorLength   *int         `json:"anchor_length,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (LinkFeedback) TableName() string {
	return "link_feedback"
}

// SubmissionLog protokolliert eine Einreichung; die ID ist die Log-ID für den Aufrufer.
type SubmissionLog struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	CreatedAt      time.Time `json:"created_at"`
	PageID         int64     `json:"page_id" gorm:"index;not null"`
	Title          string    `json:"title"`
	RevisionID     int64     `json:"revision_id" gorm:"not null"`
	EditRevisionID *int64    `json:"edit_revision_id,omitempty"`
	UserID         int64     `json:"user_id" gorm:"index;not null"`
	Accepted       int       `json:"accepted"`
	Rejected       int       `json:"rejected"`
	Skipped        int       `json:"skipped"`
}

// TableName gibt explizit den Tabellennamen an.
func (SubmissionLog) TableName() string {
	return "link_submission_log"
}
