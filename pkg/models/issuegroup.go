package models

import (
	"time"
)

const (
	// MaxTitleLen is the maximum stored length of an issue group title.
	MaxTitleLen = 200
	// MaxDescriptionLen is the maximum stored length of an issue group description.
	MaxDescriptionLen = 1000
)

// IssueGroup is a cluster of conversations describing the same specific
// problem. The fingerprint is the representative vector used to match new
// conversations; it is set at creation (the first member's fingerprint) and
// never recomputed from members.
type IssueGroup struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Fingerprint []float32 `json:"-"`
	MemberCount int64     `json:"member_count"`
	ID          int64     `json:"id"`
}

// GroupRef is the minimal issue group projection the similarity matcher
// works with. One batch run loads all refs once and appends newly created
// groups as it goes.
type GroupRef struct {
	Title       string
	Fingerprint []float32
	ID          int64
}
