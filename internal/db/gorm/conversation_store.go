package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/fathomdesk/fathom/pkg/models"
)

// ErrAlreadyGrouped is returned when assigning a conversation that is
// already a member of an issue group. Members are never reassigned.
var ErrAlreadyGrouped = errors.New("conversation is already assigned to an issue group")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ConversationStore provides conversation-related database operations.
type ConversationStore struct {
	db *gorm.DB
}

// NewConversationStore creates a new conversation store.
func NewConversationStore(store *Store) *ConversationStore {
	return &ConversationStore{db: store.DB}
}

// Create inserts a conversation with its transcript.
func (s *ConversationStore) Create(ctx context.Context, conv *models.Conversation, messages []models.Message) (int64, error) {
	row := &Conversation{
		Slug:   conv.Slug,
		Status: string(conv.Status),
	}
	if row.Slug == "" {
		row.Slug = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = string(models.StatusOpen)
	}
	if conv.Subject != "" {
		row.Subject = sql.NullString{String: conv.Subject, Valid: true}
	}
	if conv.MergedIntoID != nil {
		row.MergedIntoID = sql.NullInt64{Int64: *conv.MergedIntoID, Valid: true}
	}
	if len(conv.Fingerprint) > 0 {
		vec := pgvec.NewVector(conv.Fingerprint)
		row.Fingerprint = &vec
	}
	if conv.FingerprintText != "" {
		row.FingerprintText = sql.NullString{String: conv.FingerprintText, Valid: true}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		for _, m := range messages {
			msg := &ConversationMessage{
				ConversationID: row.ID,
				Role:           string(m.Role),
				Body:           m.Body,
			}
			if err := tx.Create(msg).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}

	return row.ID, nil
}

// GetByID returns one conversation.
func (s *ConversationStore) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	var row Conversation
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return row.ToModel(), nil
}

// Eligible returns up to limit conversations that are open, not merged,
// fingerprinted, and not yet members of any issue group, ordered by id
// ascending so repeated runs select deterministically.
func (s *ConversationStore) Eligible(ctx context.Context, limit int) ([]models.Conversation, error) {
	var rows []Conversation
	err := s.db.WithContext(ctx).
		Where("status = ?", string(models.StatusOpen)).
		Where("merged_into_id IS NULL").
		Where("fingerprint IS NOT NULL").
		Where("issue_group_id IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select eligible conversations: %w", err)
	}

	result := make([]models.Conversation, len(rows))
	for i := range rows {
		result[i] = *rows[i].ToModel()
	}
	return result, nil
}

// MissingFingerprintCount reports how many open, unmerged conversations
// still lack a fingerprint.
func (s *ConversationStore) MissingFingerprintCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("status = ?", string(models.StatusOpen)).
		Where("merged_into_id IS NULL").
		Where("fingerprint IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count conversations missing fingerprints: %w", err)
	}
	return count, nil
}

// MissingFingerprintIDs returns up to limit ids of open, unmerged
// conversations without a fingerprint, oldest first. Used by the backfill.
func (s *ConversationStore) MissingFingerprintIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("status = ?", string(models.StatusOpen)).
		Where("merged_into_id IS NULL").
		Where("fingerprint IS NULL").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select conversations missing fingerprints: %w", err)
	}
	return ids, nil
}

// Messages returns the transcript of one conversation in insertion order.
func (s *ConversationStore) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var rows []ConversationMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load messages for conversation %d: %w", conversationID, err)
	}

	messages := make([]models.Message, len(rows))
	for i, row := range rows {
		messages[i] = models.Message{
			Role: models.MessageRole(row.Role),
			Body: row.Body,
		}
	}
	return messages, nil
}

// SaveFingerprint persists the fingerprint text and vector onto the
// conversation.
func (s *ConversationStore) SaveFingerprint(ctx context.Context, conversationID int64, text string, vector []float32) error {
	vec := pgvec.NewVector(vector)
	result := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"fingerprint":      &vec,
			"fingerprint_text": text,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("save fingerprint for conversation %d: %w", conversationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignGroup records issue group membership. The guard on issue_group_id
// keeps membership immutable: a conversation that already belongs to a
// group is never moved.
func (s *ConversationStore) AssignGroup(ctx context.Context, conversationID, groupID int64) error {
	result := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", conversationID).
		Where("issue_group_id IS NULL").
		Updates(map[string]any{
			"issue_group_id": groupID,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("assign conversation %d to group %d: %w", conversationID, groupID, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err == nil && count == 0 {
			return ErrNotFound
		}
		return ErrAlreadyGrouped
	}
	return nil
}

// UnassignGroup removes issue group membership. This is an administrative
// action used by the API, not by the batch engine.
func (s *ConversationStore) UnassignGroup(ctx context.Context, conversationID int64) error {
	result := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"issue_group_id": nil,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("unassign conversation %d: %w", conversationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
