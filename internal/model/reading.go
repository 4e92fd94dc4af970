package model

import "time"

// TemperatureReading is one observed thermometer value. Readings are
// append-only; one row per thermometer per poll cycle.
type TemperatureReading struct {
	ID         int64     `gorm:"autoIncrement;primaryKey"`
	DeviceUID  string    `gorm:"index:idx_reading_device_time;size:80;not null"`
	ObservedAt time.Time `gorm:"index:idx_reading_device_time;not null"`
	Value      float64   `gorm:"not null"`
}
