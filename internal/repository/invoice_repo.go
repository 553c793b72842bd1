package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-evidence-backend/internal/models"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Expose DB if needed
func (r *InvoiceRepository) DB() *gorm.DB {
	return r.db
}

// GetByID fetch a single invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &invoice, nil
}

// FindByNumber resolves an invoice reference code, ignoring case.
func (r *InvoiceRepository) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("UPPER(invoice_number) = ?", strings.ToUpper(strings.TrimSpace(number))).
		First(&invoice).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &invoice, nil
}

// ListOpen returns invoices that can still receive money.
func (r *InvoiceRepository) ListOpen(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", models.ClosedInvoiceStatuses).
		Order("invoice_number ASC").
		Find(&invoices).Error
	return invoices, err
}

// Create issues a new invoice. Outstanding and status follow from total and
// collected.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	if invoice.Status == "" {
		invoice.Status = models.InvoiceSent
	}
	invoice.Recompute()
	if invoice.Status == models.InvoicePaid && invoice.PaidAt == nil {
		now := time.Now().UTC()
		invoice.PaidAt = &now
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(invoice)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// SearchInvoices used for admin manual search with optional filters
func (r *InvoiceRepository) SearchInvoices(ctx context.Context, query string, statuses []string) ([]models.Invoice, error) {
	var invoices []models.Invoice

	dbQuery := r.db.WithContext(ctx).Model(&models.Invoice{})

	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		dbQuery = dbQuery.Where("LOWER(customer_name) LIKE ? OR LOWER(invoice_number) LIKE ?", like, like)
	}
	if len(statuses) > 0 {
		dbQuery = dbQuery.Where("status IN ?", statuses)
	}

	err := dbQuery.Order("invoice_number ASC").Limit(maxPageSize).Find(&invoices).Error
	return invoices, err
}
