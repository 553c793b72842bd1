package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-evidence-backend/internal/models"
)

type BankCreditRepository struct {
	db *gorm.DB
}

func NewBankCreditRepository(db *gorm.DB) *BankCreditRepository {
	return &BankCreditRepository{db: db}
}

func (r *BankCreditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BankCredit, error) {
	var credit models.BankCredit
	if err := r.db.WithContext(ctx).First(&credit, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &credit, nil
}

// Upsert inserts the credit or refreshes the row with the same identity key.
// Amount and confidence are only rewritten while the credit is unmatched.
func (r *BankCreditRepository) Upsert(ctx context.Context, credit *models.BankCredit) (created bool, err error) {
	const op = "BankCreditRepository.Upsert"
	if credit.IdentityKey == "" {
		return false, fmt.Errorf("%s: identity key is required", op)
	}

	db := r.db.WithContext(ctx)
	candidate := *credit
	candidate.ID = uuid.New()
	if candidate.Status == "" {
		candidate.Status = models.BankCreditUnmatched
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}},
		DoNothing: true,
	}).Create(&candidate)
	if res.Error != nil {
		return false, fmt.Errorf("%s: insert: %w", op, res.Error)
	}
	if res.RowsAffected == 1 {
		*credit = candidate
		return true, nil
	}

	var existing models.BankCredit
	if err := db.First(&existing, "identity_key = ?", credit.IdentityKey).Error; err != nil {
		return false, fmt.Errorf("%s: load existing: %w", op, err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BankCredit{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"sender":      credit.Sender,
			"subject":     credit.Subject,
			"snippet":     credit.Snippet,
			"received_at": credit.ReceivedAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.BankCredit{}).
			Where("id = ? AND status = ?", existing.ID, models.BankCreditUnmatched).
			Updates(map[string]interface{}{
				"amount":     credit.Amount,
				"currency":   credit.Currency,
				"confidence": credit.Confidence,
			}).Error
	})
	if err != nil {
		return false, fmt.Errorf("%s: refresh %s: %w", op, existing.ID, err)
	}

	var stored models.BankCredit
	if err := db.First(&stored, "id = ?", existing.ID).Error; err != nil {
		return false, fmt.Errorf("%s: reload: %w", op, err)
	}
	*credit = stored
	return false, nil
}

// List returns one page of bank credits. Unmatched means still in the
// unmatched state.
func (r *BankCreditRepository) List(ctx context.Context, f ListFilter) ([]models.BankCredit, string, bool, error) {
	q, err := f.apply(r.db.WithContext(ctx).Model(&models.BankCredit{}))
	if err != nil {
		return nil, "", false, err
	}
	if f.Unmatched {
		q = q.Where("status = ?", models.BankCreditUnmatched)
	}

	var credits []models.BankCredit
	if err := q.Find(&credits).Error; err != nil {
		return nil, "", false, err
	}
	items, next, more := page(credits, f.limit(), func(c models.BankCredit) uuid.UUID { return c.ID })
	return items, next, more, nil
}
