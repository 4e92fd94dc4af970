package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hranicka/ha-jablotron/internal/devices"
	"github.com/hranicka/ha-jablotron/internal/model"
)

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Device{},
		&model.TemperatureReading{},
		&model.PGMStateOpen{},
		&model.PGMStateHistory{},
	))

	return NewGormStore(db), db
}

func TestUpsertDevices(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	devs := []devices.Device{
		{Kind: devices.KindThermometer, ID: "T1", Name: "Hall", StateName: "STATE_T1"},
		{Kind: devices.KindPGM, ID: "1", Name: "Gate", StateName: "PGM_1"},
	}
	require.NoError(t, s.UpsertDevices(ctx, devs))

	var count int64
	db.Model(&model.Device{}).Count(&count)
	assert.EqualValues(t, 2, count)

	// Renaming a device updates in place instead of duplicating.
	devs[0].Name = "Hallway"
	require.NoError(t, s.UpsertDevices(ctx, devs))

	db.Model(&model.Device{}).Count(&count)
	assert.EqualValues(t, 2, count)

	var d model.Device
	require.NoError(t, db.First(&d, "uid = ?", "thermometer:T1").Error)
	assert.Equal(t, "Hallway", d.Name)
}

func TestRecordSnapshot_PGMLifecycle(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	gateOff := []devices.Device{{Kind: devices.KindPGM, ID: "1", Name: "Gate", On: false}}
	gateOn := []devices.Device{{Kind: devices.KindPGM, ID: "1", Name: "Gate", On: true}}

	// First observation: state is recorded but not reported as changed.
	changed, err := s.RecordSnapshot(ctx, t0, gateOff)
	require.NoError(t, err)
	assert.Empty(t, changed)

	// Transition off -> on: archived and reported.
	t1 := t0.Add(5 * time.Minute)
	changed, err = s.RecordSnapshot(ctx, t1, gateOn)
	require.NoError(t, err)
	assert.Equal(t, []string{"pgm:1"}, changed)

	var open model.PGMStateOpen
	require.NoError(t, db.First(&open, "device_uid = ?", "pgm:1").Error)
	assert.True(t, open.On)
	assert.Equal(t, t1.Unix(), open.ObservedAt.Unix())

	var hist []model.PGMStateHistory
	require.NoError(t, db.Find(&hist).Error)
	require.Len(t, hist, 1)
	assert.False(t, hist[0].On)
	assert.Equal(t, t0.Unix(), hist[0].PeriodStart.Unix())
	assert.Equal(t, t1.Unix(), hist[0].PeriodEnd.Unix())

	// Unchanged state: nothing new.
	changed, err = s.RecordSnapshot(ctx, t1.Add(5*time.Minute), gateOn)
	require.NoError(t, err)
	assert.Empty(t, changed)

	// Output disappears from the feed: its period is closed.
	t3 := t1.Add(10 * time.Minute)
	_, err = s.RecordSnapshot(ctx, t3, nil)
	require.NoError(t, err)

	var openCount int64
	db.Model(&model.PGMStateOpen{}).Count(&openCount)
	assert.Zero(t, openCount)

	require.NoError(t, db.Find(&hist).Error)
	assert.Len(t, hist, 2)
}

func TestRecordSnapshot_TemperatureReadingsAppend(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	therm := []devices.Device{{Kind: devices.KindThermometer, ID: "T1", Name: "Hall", Value: 21.5}}

	_, err := s.RecordSnapshot(ctx, now, therm)
	require.NoError(t, err)
	therm[0].Value = 21.7
	_, err = s.RecordSnapshot(ctx, now.Add(time.Minute), therm)
	require.NoError(t, err)

	var readings []model.TemperatureReading
	require.NoError(t, db.Order("observed_at").Find(&readings).Error)
	require.Len(t, readings, 2)
	assert.InDelta(t, 21.5, readings[0].Value, 0.001)
	assert.InDelta(t, 21.7, readings[1].Value, 0.001)
	assert.Equal(t, "thermometer:T1", readings[0].DeviceUID)
}
