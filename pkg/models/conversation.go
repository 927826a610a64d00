// Package models contains domain models for fathom.
package models

import (
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "open"
	StatusClosed ConversationStatus = "closed"
)

// MessageRole identifies who sent a message within a conversation.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// Message is a single entry in a conversation transcript.
type Message struct {
	Role MessageRole `json:"role"`
	Body string      `json:"body"`
}

// Conversation is a support conversation as seen by the clustering engine.
// Conversations are created and mutated by the surrounding conversation
// management subsystem; the engine only writes the fingerprint fields and
// the issue group assignment.
type Conversation struct {
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Slug            string             `json:"slug"`
	Subject         string             `json:"subject,omitempty"`
	Status          ConversationStatus `json:"status"`
	FingerprintText string             `json:"fingerprint_text,omitempty"`
	Fingerprint     []float32          `json:"-"`
	MergedIntoID    *int64             `json:"merged_into_id,omitempty"`
	IssueGroupID    *int64             `json:"issue_group_id,omitempty"`
	ID              int64              `json:"id"`
}

// HasFingerprint reports whether the conversation has been fingerprinted.
func (c *Conversation) HasFingerprint() bool {
	return len(c.Fingerprint) > 0
}

// Eligible reports whether the conversation qualifies for batch clustering:
// open, not merged into another conversation, fingerprinted, and not yet a
// member of any issue group.
func (c *Conversation) Eligible() bool {
	return c.Status == StatusOpen &&
		c.MergedIntoID == nil &&
		c.IssueGroupID == nil &&
		c.HasFingerprint()
}
