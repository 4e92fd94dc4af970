package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/hranicka/ha-jablotron/internal/devices"
	"github.com/hranicka/ha-jablotron/internal/jablonet"
	"github.com/hranicka/ha-jablotron/internal/poller"
	"github.com/hranicka/ha-jablotron/internal/store"
)

// ControlClient is the slice of the jablonet client the API needs for
// the control and maintenance endpoints.
type ControlClient interface {
	ControlPGM(ctx context.Context, index int, on bool) (*jablonet.ControlResult, error)
	NextRetryTime() *time.Time
	ResetAndClearRetry()
}

// SnapshotSource provides the devices of the most recent poll.
type SnapshotSource interface {
	Latest() ([]devices.Device, time.Time)
}

// ToggleSource reports and records the reconciliation state of PGM
// toggles.
type ToggleSource interface {
	State(uid string) poller.PGMToggle
	NotePending(uid string, desired bool)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	client  ControlClient
	source  SnapshotSource
	toggles ToggleSource
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, client ControlClient, source SnapshotSource, toggles ToggleSource, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		client:  client,
		source:  source,
		toggles: toggles,
		webpush: webpushOptions,
	}
}
