package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agoramarkets/parimutuel/internal/domain"
)

// publishEvent fans an event out to the channel's pub/sub subscribers and
// appends it to the matching durable stream. Failures are logged, never
// propagated: the engine transition already happened.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, at time.Time, channel, eventType string, marketID common.Hash, data any) {
	env, err := domain.NewEvent(eventType, marketID.Hex(), at, data)
	if err != nil {
		logger.WarnContext(ctx, "service: build event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logger.WarnContext(ctx, "service: marshal event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "service: publish event failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "service: stream append failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}
