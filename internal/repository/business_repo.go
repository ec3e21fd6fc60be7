package repository

import (
	"context"

	"github.com/arash/imagina/internal/domain"
	"gorm.io/gorm"
)

// BusinessRepository handles tenant data operations.
type BusinessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository creates a new BusinessRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *BusinessRepository: repository instance bound to db.
func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// Create inserts a new business record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - business: business record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *BusinessRepository) Create(ctx context.Context, business *domain.Business) error {
	return r.db.WithContext(ctx).Create(business).Error
}

// GetByID retrieves a business by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: business ID.
// Returns:
//   - *domain.Business: record if found.
//   - error: non-nil if lookup fails.
func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*domain.Business, error) {
	var business domain.Business
	if err := r.db.WithContext(ctx).First(&business, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// GetByDomain retrieves a business by the hostname requests arrive on.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - domainName: request hostname.
// Returns:
//   - *domain.Business: record if found.
//   - error: non-nil if lookup fails (gorm.ErrRecordNotFound when missing).
func (r *BusinessRepository) GetByDomain(ctx context.Context, domainName string) (*domain.Business, error) {
	var business domain.Business
	if err := r.db.WithContext(ctx).First(&business, "domain = ?", domainName).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// List retrieves all businesses.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []domain.Business: all tenant records.
//   - error: non-nil if the query fails.
func (r *BusinessRepository) List(ctx context.Context) ([]domain.Business, error) {
	var businesses []domain.Business
	if err := r.db.WithContext(ctx).Order("name").Find(&businesses).Error; err != nil {
		return nil, err
	}
	return businesses, nil
}
