package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// assignID fills a zero primary key before insert so rows get ids on every
// dialect, not only where the column carries a database default.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

func (c *Channel) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

func (c *ChannelCredential) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

func (c *ChannelProduct) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

func (a *Allocation) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}

func (s *ChannelSale) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

func (f *DemandForecast) BeforeCreate(*gorm.DB) error {
	assignID(&f.ID)
	return nil
}

func (s *SyncOperation) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

func (s *SyncStatus) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

func (c *Conflict) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

func (w *WebhookLog) BeforeCreate(*gorm.DB) error {
	assignID(&w.ID)
	return nil
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}

func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	return nil
}

// All lists every model owned by the service. Tests use it with AutoMigrate.
func All() []any {
	return []any{
		&Product{},
		&Channel{},
		&ChannelCredential{},
		&ChannelProduct{},
		&Allocation{},
		&ChannelSale{},
		&DemandForecast{},
		&SyncOperation{},
		&SyncStatus{},
		&Conflict{},
		&WebhookLog{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
