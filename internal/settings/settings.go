// Package settings serves runtime settings stored in the app_settings table.
package settings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/models"
)

// KeyMailboxAddress holds the address invoices are sent from.
const KeyMailboxAddress = "mailbox.address"

// Service caches the mailbox address for a bounded time. Each instance owns
// its cache; nothing is shared between instances.
type Service struct {
	db       *gorm.DB
	ttl      time.Duration
	fallback string
	log      zerolog.Logger

	mu        sync.Mutex
	address   string
	fetchedAt time.Time

	now func() time.Time
}

// NewService returns a settings service. fallback is used when the table has
// no value or cannot be read.
func NewService(db *gorm.DB, ttl time.Duration, fallback string) *Service {
	return &Service{
		db:       db,
		ttl:      ttl,
		fallback: strings.ToLower(strings.TrimSpace(fallback)),
		log:      logger.WithComponent("settings"),
		now:      time.Now,
	}
}

// MailboxAddress returns our own mailbox address in lower case.
func (s *Service) MailboxAddress(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fetchedAt.IsZero() && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.address
	}

	address := s.fallback
	var setting models.AppSetting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", KeyMailboxAddress).Error
	switch {
	case err == nil && strings.TrimSpace(setting.Value) != "":
		address = strings.ToLower(strings.TrimSpace(setting.Value))
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		s.log.Warn().Err(err).Msg("Failed to read mailbox address setting, using configured value")
		// keep the previous good value if there is one
		if s.address != "" {
			address = s.address
		}
	}

	s.address = address
	s.fetchedAt = s.now()
	return address
}

// SetMailboxAddress stores a new address and refreshes the cache.
func (s *Service) SetMailboxAddress(ctx context.Context, address string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	setting := models.AppSetting{Key: KeyMailboxAddress, Value: address}
	if err := s.db.WithContext(ctx).Save(&setting).Error; err != nil {
		return err
	}

	s.mu.Lock()
	s.address = address
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return nil
}
