package monitoring

import (
	"context"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"

	"go.uber.org/zap"
)

// StatsTicker periodically publishes a metrics tick onto the event bus; the
// broadcaster turns it into system_stats and metrics_update pushes for
// connected dashboards.
type StatsTicker struct {
	registry  ports.ConnectionRegistry
	bus       ports.EventBus
	collector *PrometheusCollector
	interval  time.Duration
	startedAt time.Time

	logger *zap.SugaredLogger
}

func NewStatsTicker(
	registry ports.ConnectionRegistry,
	bus ports.EventBus,
	collector *PrometheusCollector,
	interval time.Duration,
	logger *zap.SugaredLogger,
) *StatsTicker {
	return &StatsTicker{
		registry:  registry,
		bus:       bus,
		collector: collector,
		interval:  interval,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (t *StatsTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *StatsTicker) tick(ctx context.Context) {
	connections := t.registry.Count()
	rooms := t.registry.RoomCount()
	t.collector.SetConnections(connections)
	t.collector.SetRooms(rooms)

	stats := &domain.SystemStats{
		Connections:     connections,
		Rooms:           rooms,
		UptimeSeconds:   int64(time.Since(t.startedAt).Seconds()),
		EventsBroadcast: t.collector.EventsBroadcast(),
		DroppedSends:    t.collector.DroppedSends(),
		Timestamp:       time.Now(),
	}
	if err := t.bus.Publish(ctx, domain.NewMetricsTick(stats)); err != nil {
		t.logger.Warnw("failed to publish metrics tick", "error", err)
	}
}
