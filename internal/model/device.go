package model

import "time"

// Device represents one device known from the portal snapshot: a
// thermometer, PGM output, motion sensor or alarm section. Portal
// identifiers are only unique within a kind, so the primary key is the
// composite "kind:id" form produced by DeviceUID.
type Device struct {
	UID        string `gorm:"primaryKey;size:80"`
	Kind       string `gorm:"index;size:16;not null"`
	ExternalID string `gorm:"size:64;not null"`
	Name       string `gorm:"size:256;not null"`
	StateName  string `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DeviceUID builds the primary key for a device of the given kind and
// portal identifier.
func DeviceUID(kind, externalID string) string {
	return kind + ":" + externalID
}
