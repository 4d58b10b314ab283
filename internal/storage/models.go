package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnomalyEvent is one journaled anomaly.
type AnomalyEvent struct {
	ID           int64
	SessionID    string
	EntityID     string
	Kind         string
	ObservedAt   time.Time
	VoltageKV    decimal.Decimal
	CurrentAmps  decimal.Decimal
	TemperatureC decimal.Decimal
	LoadFactor   decimal.Decimal
	Notified     bool
	CreatedAt    time.Time
}
