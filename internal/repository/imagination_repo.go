package repository

import (
	"context"

	"github.com/arash/imagina/internal/domain"
	"gorm.io/gorm"
)

// ImaginationRepository handles imagination data operations.
type ImaginationRepository struct {
	db *gorm.DB
}

// NewImaginationRepository creates a new ImaginationRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ImaginationRepository: repository instance bound to db.
func NewImaginationRepository(db *gorm.DB) *ImaginationRepository {
	return &ImaginationRepository{db: db}
}

// Create inserts a new imagination record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imag: imagination record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ImaginationRepository) Create(ctx context.Context, imag *domain.Imagination) error {
	return r.db.WithContext(ctx).Create(imag).Error
}

// GetByID retrieves an imagination by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: imagination ID.
// Returns:
//   - *domain.Imagination: record if found.
//   - error: non-nil if lookup fails (gorm.ErrRecordNotFound when missing).
func (r *ImaginationRepository) GetByID(ctx context.Context, id string) (*domain.Imagination, error) {
	var imag domain.Imagination
	if err := r.db.WithContext(ctx).First(&imag, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &imag, nil
}

// Save persists every field of an existing record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imag: record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *ImaginationRepository) Save(ctx context.Context, imag *domain.Imagination) error {
	return r.db.WithContext(ctx).Save(imag).Error
}

// UpdateNonTerminal applies fields only if the stored record has not yet
// reached a terminal state. This is the compare-and-swap every lifecycle
// transition goes through: when a poll and a webhook race, the first terminal
// write wins and every later arrival is a no-op.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: imagination ID.
//   - fields: column/value pairs to apply.
// Returns:
//   - bool: true if the update was applied; false if the record was already
//     terminal (or missing).
//   - error: non-nil if the update fails.
func (r *ImaginationRepository) UpdateNonTerminal(ctx context.Context, id string, fields map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Imagination{}).
		Where("id = ? AND status NOT IN ?", id, domain.TerminalStatuses()).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendReport appends a human-readable report line to the record's log and
// persists it. Reports are an append-only audit trail; they never gate state
// transitions.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imag: record to report on (mutated in place).
//   - report: report text.
// Returns:
//   - error: non-nil if the update fails.
func (r *ImaginationRepository) AppendReport(ctx context.Context, imag *domain.Imagination, report string) error {
	imag.Reports = append(imag.Reports, report)
	return r.db.WithContext(ctx).
		Model(&domain.Imagination{}).
		Where("id = ?", imag.ID).
		Update("reports", imag.Reports).Error
}

// ListByOwner retrieves a business's imaginations with pagination, newest
// first. An empty userID lists across the whole business.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - businessID: owning business ID.
//   - userID: owning user ID; empty means all users.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Imagination: matching records.
//   - error: non-nil if the query fails.
func (r *ImaginationRepository) ListByOwner(ctx context.Context, businessID, userID string, limit, offset int) ([]domain.Imagination, error) {
	var imaginations []domain.Imagination
	query := r.db.WithContext(ctx).Where("business_id = ?", businessID)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.
		Limit(limit).
		Offset(offset).
		Order("created_at DESC").
		Find(&imaginations).Error; err != nil {
		return nil, err
	}
	return imaginations, nil
}

// CountByOwner counts a business's imaginations, optionally per user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - businessID: owning business ID.
//   - userID: owning user ID; empty means all users.
// Returns:
//   - int64: number of matching records.
//   - error: non-nil if the query fails.
func (r *ImaginationRepository) CountByOwner(ctx context.Context, businessID, userID string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&domain.Imagination{}).Where("business_id = ?", businessID)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes an imagination by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: imagination ID to delete.
// Returns:
//   - error: non-nil if the delete fails.
func (r *ImaginationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Imagination{}, "id = ?", id).Error
}
