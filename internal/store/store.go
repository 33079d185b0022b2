// Package store provides typed repositories over the gorm database. Each
// entity gets a small store with exactly the queries the pipeline needs;
// components receive stores by injection and never touch *gorm.DB directly.
package store

import "gorm.io/gorm"

// Stores bundles every repository for injection.
type Stores struct {
	Strategies  *StrategyStore
	Trades      *TradeStore
	Positions   *PositionStore
	WebhookLogs *WebhookLogStore
	Billing     *BillingStore
	Profiles    *ProfileStore
	Credentials *CredentialStore
}

// New creates the full store set over one database handle.
func New(db *gorm.DB) *Stores {
	return &Stores{
		Strategies:  &StrategyStore{db: db},
		Trades:      &TradeStore{db: db},
		Positions:   &PositionStore{db: db},
		WebhookLogs: &WebhookLogStore{db: db},
		Billing:     &BillingStore{db: db},
		Profiles:    &ProfileStore{db: db},
		Credentials: &CredentialStore{db: db},
	}
}
