package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

// OutboxEntryModel is one row of outbox_events. Its fields mirror
// shared.OutboxEntry one to one so the two convert directly.
type OutboxEntryModel struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_events_event_id"`
	EventType     string              `gorm:"type:varchar(128);not null"`
	AggregateID   uuid.UUID           `gorm:"type:uuid;not null"`
	AggregateType string              `gorm:"type:varchar(64);not null"`
	Payload       []byte              `gorm:"not null"`
	Status        shared.OutboxStatus `gorm:"type:varchar(16);not null;index:idx_outbox_claim,priority:1"`
	Attempts      int                 `gorm:"not null;default:0"`
	MaxAttempts   int                 `gorm:"not null"`
	LastError     string              `gorm:"type:text"`
	AvailableAt   time.Time           `gorm:"not null;index:idx_outbox_claim,priority:2"`
	DeliveredAt   *time.Time          `gorm:"index:idx_outbox_delivered_at"`
	CreatedAt     time.Time           `gorm:"not null"`
	UpdatedAt     time.Time           `gorm:"not null"`
}

func (OutboxEntryModel) TableName() string {
	return "outbox_events"
}

func (m *OutboxEntryModel) ToDomain() *shared.OutboxEntry {
	e := shared.OutboxEntry(*m)
	return &e
}

func OutboxEntryModelFromDomain(e *shared.OutboxEntry) *OutboxEntryModel {
	m := OutboxEntryModel(*e)
	return &m
}
