package gorm

import (
	"database/sql"
	"time"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/fathomdesk/fathom/pkg/models"
)

// GORM models. Tables are created by migrations (raw SQL) because the
// fingerprint column dimension comes from configuration; struct tags here
// only describe columns for CRUD.

// Conversation represents a support conversation row.
type Conversation struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Slug            string `gorm:"uniqueIndex;not null"`
	Status          string `gorm:"not null;default:'open'"`
	Subject         sql.NullString
	FingerprintText sql.NullString
	Fingerprint     *pgvec.Vector `gorm:"column:fingerprint"`
	MergedIntoID    sql.NullInt64
	IssueGroupID    sql.NullInt64
	ID              int64 `gorm:"primaryKey;autoIncrement"`
}

func (Conversation) TableName() string { return "conversations" }

// BeforeCreate hook to ensure timestamps are set.
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return nil
}

// ToModel converts the row to the domain model.
func (c *Conversation) ToModel() *models.Conversation {
	conv := &models.Conversation{
		ID:        c.ID,
		Slug:      c.Slug,
		Status:    models.ConversationStatus(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Subject.Valid {
		conv.Subject = c.Subject.String
	}
	if c.FingerprintText.Valid {
		conv.FingerprintText = c.FingerprintText.String
	}
	if c.Fingerprint != nil {
		conv.Fingerprint = c.Fingerprint.Slice()
	}
	if c.MergedIntoID.Valid {
		id := c.MergedIntoID.Int64
		conv.MergedIntoID = &id
	}
	if c.IssueGroupID.Valid {
		id := c.IssueGroupID.Int64
		conv.IssueGroupID = &id
	}
	return conv
}

// ConversationMessage represents a single transcript entry.
type ConversationMessage struct {
	CreatedAt      time.Time
	Role           string `gorm:"not null"`
	Body           string `gorm:"type:text;not null"`
	ConversationID int64  `gorm:"index;not null"`
	ID             int64  `gorm:"primaryKey;autoIncrement"`
}

func (ConversationMessage) TableName() string { return "conversation_messages" }

// IssueGroup represents a cluster of conversations about the same problem.
// The fingerprint is set at creation and never updated afterwards.
type IssueGroup struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Title       string `gorm:"not null"`
	Description sql.NullString
	Fingerprint pgvec.Vector `gorm:"column:fingerprint"`
	ID          int64        `gorm:"primaryKey;autoIncrement"`
}

func (IssueGroup) TableName() string { return "issue_groups" }

// BeforeCreate hook to ensure timestamps are set.
func (g *IssueGroup) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}
	return nil
}

// ToModel converts the row to the domain model.
func (g *IssueGroup) ToModel() *models.IssueGroup {
	group := &models.IssueGroup{
		ID:          g.ID,
		Title:       g.Title,
		Fingerprint: g.Fingerprint.Slice(),
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
	if g.Description.Valid {
		group.Description = g.Description.String
	}
	return group
}
