package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hranicka/ha-jablotron/internal/devices"
	"github.com/hranicka/ha-jablotron/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	// DB exposes the underlying handle for the API layer's read paths.
	DB() *gorm.DB

	// UpsertDevices reconciles device metadata from a decoded snapshot.
	UpsertDevices(ctx context.Context, devs []devices.Device) error

	// RecordSnapshot persists one poll cycle: thermometer readings are
	// appended and PGM state transitions are archived. It returns the
	// UIDs of PGM outputs whose state changed since the previous cycle,
	// so the caller can dispatch notifications.
	RecordSnapshot(ctx context.Context, now time.Time, devs []devices.Device) ([]string, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) UpsertDevices(ctx context.Context, devs []devices.Device) error {
	if len(devs) == 0 {
		return nil
	}

	rows := make([]model.Device, 0, len(devs))
	for _, d := range devs {
		rows = append(rows, model.Device{
			UID:        model.DeviceUID(string(d.Kind), d.ID),
			Kind:       string(d.Kind),
			ExternalID: d.ID,
			Name:       d.Name,
			StateName:  d.StateName,
		})
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "state_name", "updated_at"}),
	}).Create(&rows).Error
}

func (s *gormStore) RecordSnapshot(ctx context.Context, now time.Time, devs []devices.Device) ([]string, error) {
	openStates, err := s.fetchOpenPGMStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch open PGM states: %w", err)
	}

	var changed []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range devs {
			switch d.Kind {
			case devices.KindThermometer:
				reading := model.TemperatureReading{
					DeviceUID:  model.DeviceUID(string(d.Kind), d.ID),
					ObservedAt: now,
					Value:      d.Value,
				}
				if err := tx.Create(&reading).Error; err != nil {
					return fmt.Errorf("append reading for %s: %w", reading.DeviceUID, err)
				}

			case devices.KindPGM:
				uid := model.DeviceUID(string(d.Kind), d.ID)
				open, known := openStates[uid]
				if known {
					if open.On != d.On {
						if err := archivePGMState(tx, open, now); err != nil {
							return err
						}
						open.On = d.On
						open.ObservedAt = now
						if err := tx.Save(&open).Error; err != nil {
							return fmt.Errorf("update open state for %s: %w", uid, err)
						}
						changed = append(changed, uid)
					}
					delete(openStates, uid)
				} else {
					// First observation of this output; nothing changed
					// from the subscriber's point of view.
					open = model.PGMStateOpen{DeviceUID: uid, ObservedAt: now, On: d.On}
					if err := tx.Create(&open).Error; err != nil {
						return fmt.Errorf("create open state for %s: %w", uid, err)
					}
				}
			}
		}

		// Outputs that disappeared from the feed: close their period.
		for uid, open := range openStates {
			if err := archivePGMState(tx, open, now); err != nil {
				return err
			}
			if err := tx.Delete(&model.PGMStateOpen{}, "device_uid = ?", uid).Error; err != nil {
				return fmt.Errorf("delete open state for %s: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// archivePGMState writes a completed state period to the history table.
func archivePGMState(tx *gorm.DB, open model.PGMStateOpen, now time.Time) error {
	hist := model.PGMStateHistory{
		DeviceUID:   open.DeviceUID,
		On:          open.On,
		PeriodStart: open.ObservedAt,
		PeriodEnd:   now,
	}
	if err := tx.Create(&hist).Error; err != nil {
		return fmt.Errorf("archive state for %s: %w", open.DeviceUID, err)
	}
	return nil
}

func (s *gormStore) fetchOpenPGMStates(ctx context.Context) (map[string]model.PGMStateOpen, error) {
	var open []model.PGMStateOpen
	if err := s.db.WithContext(ctx).Find(&open).Error; err != nil {
		return nil, err
	}
	states := make(map[string]model.PGMStateOpen, len(open))
	for _, o := range open {
		states[o.DeviceUID] = o
	}
	return states, nil
}
