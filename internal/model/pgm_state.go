package model

import "time"

// PGMStateOpen is the currently observed state of a PGM output (hot
// table, one row per output).
type PGMStateOpen struct {
	DeviceUID  string    `gorm:"primaryKey;size:80"`
	ObservedAt time.Time `gorm:"not null"`
	On         bool      `gorm:"not null"`
}

// PGMStateHistory archives a completed state period of a PGM output
// (cold table). PeriodStart is when the state was first observed,
// PeriodEnd when the transition away from it was seen.
type PGMStateHistory struct {
	ID          int64     `gorm:"autoIncrement;primaryKey"`
	DeviceUID   string    `gorm:"index;size:80;not null"`
	On          bool      `gorm:"not null"`
	PeriodStart time.Time `gorm:"not null"`
	PeriodEnd   time.Time `gorm:"not null;index"`
}
