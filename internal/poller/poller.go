// Package poller drives the periodic status fetches against the portal
// and fans the results out to the store, the notification workers and
// the toggle reconciler. It is the only caller of the client's GetStatus,
// one poll at a time on a fixed interval.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hranicka/ha-jablotron/config"
	"github.com/hranicka/ha-jablotron/internal/devices"
	"github.com/hranicka/ha-jablotron/internal/jablonet"
	"github.com/hranicka/ha-jablotron/internal/model"
	"github.com/hranicka/ha-jablotron/internal/notification"
	"github.com/hranicka/ha-jablotron/internal/store"
)

// StatusClient is the slice of the jablonet client the poller needs.
type StatusClient interface {
	GetStatus(ctx context.Context) (*jablonet.StatusSnapshot, error)
	NextRetryTime() *time.Time
}

// Service orchestrates the polling cycle.
type Service struct {
	cfg    *config.Config
	client StatusClient
	store  store.Store
	pool   *notification.WorkerPool
	rec    *Reconciler
	log    zerolog.Logger

	mu       sync.RWMutex
	latest   []devices.Device
	latestAt time.Time
}

// NewService creates the polling service. The worker pool and reconciler
// are started by the caller; the API depends on them even when polling
// is disabled.
func NewService(cfg *config.Config, client StatusClient, st store.Store, pool *notification.WorkerPool, rec *Reconciler, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		client: client,
		store:  st,
		pool:   pool,
		rec:    rec,
		log:    log.With().Str("component", "poller").Logger(),
	}
}

// Run polls on the configured interval until ctx is cancelled or the
// portal rejects the credentials. Credential rejections stop the loop:
// retrying with the same bad credentials is pointless, and the operator
// has to fix the configuration anyway.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Poller.Enabled {
		s.log.Info().Msg("poller is disabled, not starting")
		return
	}
	s.log.Info().Dur("interval", s.cfg.Poller.Interval).Msg("starting poller")

	if err := s.PollOnce(ctx); isAuthError(err) {
		s.log.Error().Err(err).Msg("credentials rejected, stopping poller")
		return
	}

	timer := time.NewTimer(s.cfg.Poller.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("poller shutting down")
			return
		case <-timer.C:
			if err := s.PollOnce(ctx); isAuthError(err) {
				s.log.Error().Err(err).Msg("credentials rejected, stopping poller")
				return
			}
			timer.Reset(s.cfg.Poller.Interval)
		}
	}
}

// PollOnce performs a single poll cycle. Transient failures are logged
// and swallowed; the client's own cooldown bounds how often they can
// cost a network round trip. Auth failures are returned to the caller.
func (s *Service) PollOnce(ctx context.Context) error {
	now := time.Now().UTC()

	snap, err := s.client.GetStatus(ctx)
	if err != nil {
		if isAuthError(err) {
			return err
		}
		evt := s.log.Warn().Err(err)
		if next := s.client.NextRetryTime(); next != nil {
			evt = evt.Time("next_retry", *next)
		}
		evt.Msg("poll cycle skipped")
		return nil
	}

	devs := devices.FromSnapshot(snap)

	if err := s.store.UpsertDevices(ctx, devs); err != nil {
		s.log.Error().Err(err).Msg("failed to upsert devices")
		return nil
	}

	changed, err := s.store.RecordSnapshot(ctx, now, devs)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to record snapshot")
		return nil
	}

	for _, uid := range changed {
		s.pool.Dispatch(uid)
	}

	// Map portal IDs to device UIDs for the reconciler.
	states := make(map[string]bool)
	for id, on := range devices.PGMStates(snap) {
		states[model.DeviceUID(string(devices.KindPGM), id)] = on
	}
	s.rec.Observe(states)

	s.mu.Lock()
	s.latest = devs
	s.latestAt = now
	s.mu.Unlock()

	s.log.Debug().Int("devices", len(devs)).Int("changed", len(changed)).Msg("poll cycle finished")
	return nil
}

// Latest returns the devices decoded from the most recent successful
// poll and its timestamp. The slice must not be mutated by the caller.
func (s *Service) Latest() ([]devices.Device, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latestAt
}

func isAuthError(err error) bool {
	var ae *jablonet.AuthError
	return errors.As(err, &ae)
}
