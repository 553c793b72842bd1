package models

import "time"

type AppSetting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// AllModels lists every table owned by this service, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&Invoice{},
		&Receipt{},
		&BankCredit{},
		&PaymentMatch{},
		&SyncRun{},
		&AppSetting{},
	}
}
