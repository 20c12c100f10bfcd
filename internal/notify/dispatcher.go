package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/metrics"
	"github.com/unishark/portalwatch/internal/watch"
)

// Dispatcher fans one event out to every channel the tenant has enabled.
// Channels deliver concurrently and failures are isolated per channel.
type Dispatcher struct {
	renderer *Renderer
	email    watch.Channel
	telegram watch.Channel
	discord  watch.Channel
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. Nil channels are treated as
// globally disabled.
func NewDispatcher(renderer *Renderer, email, telegram, discord watch.Channel, logger *zap.Logger) *Dispatcher {
	metrics.Init()
	return &Dispatcher{
		renderer: renderer,
		email:    email,
		telegram: telegram,
		discord:  discord,
		logger:   logger,
	}
}

type delivery struct {
	channel     watch.Channel
	destination string
	payload     watch.Payload
}

// Dispatch renders and delivers the event on every enabled channel, and
// returns the number of successful deliveries. A channel failure is logged
// and never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, tenant watch.Tenant, event Event) int {
	var deliveries []delivery
	if d.email != nil && tenant.EmailEnabled && tenant.Email != "" {
		deliveries = append(deliveries, delivery{d.email, tenant.Email, d.renderer.Email(event)})
	}
	if d.telegram != nil && tenant.TelegramEnabled && tenant.TelegramChatID != "" {
		deliveries = append(deliveries, delivery{d.telegram, tenant.TelegramChatID, d.renderer.Telegram(event)})
	}
	if d.discord != nil && tenant.DiscordWebhook != "" {
		deliveries = append(deliveries, delivery{d.discord, tenant.DiscordWebhook, d.renderer.Plain(event)})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, dv := range deliveries {
		wg.Add(1)
		go func(dv delivery) {
			defer wg.Done()
			if err := dv.channel.Deliver(ctx, dv.destination, dv.payload); err != nil {
				metrics.ObserveNotification(dv.channel.Name(), "failed")
				d.logger.Error("notification delivery failed",
					zap.String("tenant_id", tenant.ID),
					zap.String("channel", dv.channel.Name()),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
				return
			}
			metrics.ObserveNotification(dv.channel.Name(), "delivered")
			mu.Lock()
			delivered++
			mu.Unlock()
		}(dv)
	}
	wg.Wait()

	d.logger.Info("notification dispatched",
		zap.String("tenant_id", tenant.ID),
		zap.String("event_type", string(event.Type)),
		zap.Int("delivered", delivered),
		zap.Int("attempted", len(deliveries)))
	return delivered
}
