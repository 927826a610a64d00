package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/fathomdesk/fathom/pkg/models"
)

// GroupStore provides issue group database operations.
type GroupStore struct {
	db *gorm.DB
}

// NewGroupStore creates a new issue group store.
func NewGroupStore(store *Store) *GroupStore {
	return &GroupStore{db: store.DB}
}

// Refs loads all issue groups as matcher refs, ordered by id so the
// matching snapshot has a stable iteration order.
func (s *GroupStore) Refs(ctx context.Context) ([]models.GroupRef, error) {
	var rows []IssueGroup
	err := s.db.WithContext(ctx).
		Select("id", "title", "fingerprint").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load issue group refs: %w", err)
	}

	refs := make([]models.GroupRef, len(rows))
	for i, row := range rows {
		refs[i] = models.GroupRef{
			ID:          row.ID,
			Title:       row.Title,
			Fingerprint: row.Fingerprint.Slice(),
		}
	}
	return refs, nil
}

// Create inserts a new issue group and returns its id. Title and
// description are truncated by callers to the stored field limits; the
// representative fingerprint is immutable after this write.
func (s *GroupStore) Create(ctx context.Context, group *models.IssueGroup) (int64, error) {
	row := &IssueGroup{
		Title:       group.Title,
		Fingerprint: pgvec.NewVector(group.Fingerprint),
	}
	if group.Description != "" {
		row.Description = sql.NullString{String: group.Description, Valid: true}
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return 0, fmt.Errorf("create issue group (pg code %s): %w", pgErr.Code, err)
		}
		return 0, fmt.Errorf("create issue group: %w", err)
	}

	return row.ID, nil
}

// GetByID returns one issue group with its member count.
func (s *GroupStore) GetByID(ctx context.Context, id int64) (*models.IssueGroup, error) {
	var row IssueGroup
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue group %d: %w", id, err)
	}

	group := row.ToModel()
	err = s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("issue_group_id = ?", id).
		Count(&group.MemberCount).Error
	if err != nil {
		return nil, fmt.Errorf("count members of issue group %d: %w", id, err)
	}

	return group, nil
}

// Candidates returns all groups as {id, title, description} for the
// generative point-assignment path.
func (s *GroupStore) Candidates(ctx context.Context) ([]models.IssueGroup, error) {
	var rows []IssueGroup
	err := s.db.WithContext(ctx).
		Select("id", "title", "description").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load issue group candidates: %w", err)
	}

	groups := make([]models.IssueGroup, len(rows))
	for i := range rows {
		groups[i] = *rows[i].ToModel()
	}
	return groups, nil
}

// ListWithCounts returns all issue groups with member counts, largest
// groups first.
func (s *GroupStore) ListWithCounts(ctx context.Context) ([]models.IssueGroup, error) {
	type countedRow struct {
		IssueGroup
		MemberCount int64
	}

	var rows []countedRow
	err := s.db.WithContext(ctx).
		Model(&IssueGroup{}).
		Select("issue_groups.*, COUNT(conversations.id) AS member_count").
		Joins("LEFT JOIN conversations ON conversations.issue_group_id = issue_groups.id").
		Group("issue_groups.id").
		Order("member_count DESC, issue_groups.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list issue groups: %w", err)
	}

	groups := make([]models.IssueGroup, len(rows))
	for i := range rows {
		group := rows[i].ToModel()
		group.MemberCount = rows[i].MemberCount
		groups[i] = *group
	}
	return groups, nil
}

// Members returns the conversations assigned to a group, newest first.
func (s *GroupStore) Members(ctx context.Context, groupID int64) ([]models.Conversation, error) {
	var rows []Conversation
	err := s.db.WithContext(ctx).
		Where("issue_group_id = ?", groupID).
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load members of issue group %d: %w", groupID, err)
	}

	result := make([]models.Conversation, len(rows))
	for i := range rows {
		result[i] = *rows[i].ToModel()
	}
	return result, nil
}
