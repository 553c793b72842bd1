package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-evidence-backend/internal/models"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	if err := r.db.WithContext(ctx).First(&receipt, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &receipt, nil
}

// Upsert inserts the receipt unless one with the same identity key exists,
// in which case the stored row is refreshed. Payer details are always
// refreshed; amount, confidence and the invoice link only while the receipt
// is still submitted and no reviewer has matched it, and a missing amount
// never erases an extracted one.
// The stored row is written back into receipt.
func (r *ReceiptRepository) Upsert(ctx context.Context, receipt *models.Receipt) (created bool, err error) {
	const op = "ReceiptRepository.Upsert"
	if receipt.IdentityKey == "" {
		return false, fmt.Errorf("%s: identity key is required", op)
	}

	db := r.db.WithContext(ctx)
	candidate := *receipt
	candidate.ID = uuid.New()
	if candidate.Status == "" {
		candidate.Status = models.ReceiptSubmitted
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}},
		DoNothing: true,
	}).Create(&candidate)
	if res.Error != nil {
		return false, fmt.Errorf("%s: insert: %w", op, res.Error)
	}
	if res.RowsAffected == 1 {
		*receipt = candidate
		return true, nil
	}

	var existing models.Receipt
	if err := db.First(&existing, "identity_key = ?", receipt.IdentityKey).Error; err != nil {
		return false, fmt.Errorf("%s: load existing: %w", op, err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Receipt{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"payer_email": receipt.PayerEmail,
			"subject":     receipt.Subject,
			"thread_id":   receipt.ThreadID,
			"file_type":   receipt.FileType,
			"file_size":   receipt.FileSize,
		}).Error; err != nil {
			return err
		}

		open := map[string]interface{}{
			"confidence":        receipt.Confidence,
			"invoice_reference": receipt.InvoiceReference,
		}
		if receipt.Amount.Valid {
			open["amount"] = receipt.Amount
			open["currency"] = receipt.Currency
		}
		if existing.InvoiceID == nil && receipt.InvoiceID != nil {
			open["invoice_id"] = receipt.InvoiceID
		}
		return tx.Model(&models.Receipt{}).
			Where("id = ? AND status = ? AND matched_by = ?", existing.ID, models.ReceiptSubmitted, "").
			Updates(open).Error
	})
	if err != nil {
		return false, fmt.Errorf("%s: refresh %s: %w", op, existing.ID, err)
	}

	var stored models.Receipt
	if err := db.First(&stored, "id = ?", existing.ID).Error; err != nil {
		return false, fmt.Errorf("%s: reload: %w", op, err)
	}
	*receipt = stored
	return false, nil
}

// List returns one page of receipts. Unmatched means not linked to an invoice.
func (r *ReceiptRepository) List(ctx context.Context, f ListFilter) ([]models.Receipt, string, bool, error) {
	q, err := f.apply(r.db.WithContext(ctx).Model(&models.Receipt{}))
	if err != nil {
		return nil, "", false, err
	}
	if f.Unmatched {
		q = q.Where("invoice_id IS NULL")
	}

	var receipts []models.Receipt
	if err := q.Find(&receipts).Error; err != nil {
		return nil, "", false, err
	}
	items, next, more := page(receipts, f.limit(), func(r models.Receipt) uuid.UUID { return r.ID })
	return items, next, more, nil
}
