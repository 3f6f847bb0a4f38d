package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-midi/internal/database/models"
	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// RevisionRepository handles configuration revision data access.
type RevisionRepository struct {
	db *gorm.DB
}

// NewRevisionRepository creates a new RevisionRepository.
func NewRevisionRepository(db *gorm.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

// Create inserts a revision, filling in ID and LoadedAt when unset.
func (r *RevisionRepository) Create(ctx context.Context, rev *models.ConfigRevision) error {
	if rev.ID == "" {
		rev.ID = cuid.New()
	}
	if rev.LoadedAt.IsZero() {
		rev.LoadedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rev).Error
}

// FindRecent returns up to limit revisions, newest first.
func (r *RevisionRepository) FindRecent(ctx context.Context, limit int) ([]models.ConfigRevision, error) {
	var revisions []models.ConfigRevision
	q := r.db.WithContext(ctx).Order("loaded_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&revisions)
	return revisions, result.Error
}

// FindLatestAccepted returns the most recent accepted revision, or nil if none.
func (r *RevisionRepository) FindLatestAccepted(ctx context.Context) (*models.ConfigRevision, error) {
	var rev models.ConfigRevision
	result := r.db.WithContext(ctx).
		Where("accepted = ?", true).
		Order("loaded_at DESC").
		First(&rev)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rev, nil
}

// RecordLoad stores the outcome of a mapping load. Accepted loads reuse the
// snapshot's revision ID.
func (r *RevisionRepository) RecordLoad(ctx context.Context, source string, store *mapping.Store, loadErr error) error {
	rev := &models.ConfigRevision{Source: source}
	if loadErr != nil {
		msg := loadErr.Error()
		rev.Error = &msg
		return r.Create(ctx, rev)
	}

	rev.ID = store.Revision()
	rev.Hash = store.Hash()
	rev.RuleCount = store.Len()
	rev.Accepted = true
	rev.LoadedAt = store.LoadedAt()
	return r.Create(ctx, rev)
}
