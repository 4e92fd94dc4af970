package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hranicka/ha-jablotron/internal/model"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation backed by the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans PGM state-change notifications out to subscribers.
// Jobs carry the UID of the device whose state changed.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log.With().Str("component", "notification").Logger(),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case uid := <-wp.jobs:
			wp.notifySubscribers(ctx, uid)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(deviceUID string) {
	wp.jobs <- deviceUID
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan string {
	return wp.jobs
}

// notifySubscribers fetches subscriptions for the device and sends the
// state-change message to each of them.
func (wp *WorkerPool) notifySubscribers(ctx context.Context, deviceUID string) {
	if wp.webpush == nil {
		return
	}

	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_uid = ?", deviceUID).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Error().Err(err).Str("device", deviceUID).Msg("failed to fetch subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	message := wp.buildMessage(ctx, deviceUID)
	wp.log.Info().Str("device", deviceUID).Int("subscribers", len(subscriptions)).Msg("sending notifications")

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// buildMessage renders a human-readable state-change line, falling back
// to the UID when metadata is missing.
func (wp *WorkerPool) buildMessage(ctx context.Context, deviceUID string) string {
	label := deviceUID
	var device model.Device
	if err := wp.db.WithContext(ctx).Select("name").First(&device, "uid = ?", deviceUID).Error; err == nil && device.Name != "" {
		label = device.Name
	}

	var open model.PGMStateOpen
	if err := wp.db.WithContext(ctx).First(&open, "device_uid = ?", deviceUID).Error; err == nil {
		state := "off"
		if open.On {
			state = "on"
		}
		return fmt.Sprintf("%s switched %s", label, state)
	}
	return fmt.Sprintf("%s changed state", label)
}

// sendNotification sends one web push message, dropping subscriptions
// the push service reports as gone.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
