package push

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/clawpizza/agent/config"
	"github.com/clawpizza/agent/internal/observability"
	"github.com/clawpizza/agent/internal/telemetry"
)

const defaultMaxReconnectInterval = 30 * time.Second

// Handler receives each notification built from an inbound push payload.
type Handler func(ctx context.Context, n Notification)

// Listener keeps a websocket subscription to the push channel alive,
// reconnecting with exponential backoff, and hands every inbound payload
// to the handler as a built notification.
type Listener struct {
	url                  string
	maxReconnectInterval time.Duration
	handler              Handler
	logger               observability.Logger
	metrics              *telemetry.AgentMetrics
}

// NewListener builds a listener from the push configuration.
func NewListener(cfg config.PushConfig, handler Handler, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.Log()
	}
	maxInterval := cfg.MaxReconnectInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxReconnectInterval
	}
	return &Listener{
		url:                  cfg.URL,
		maxReconnectInterval: maxInterval,
		handler:              handler,
		logger:               logger,
		metrics:              telemetry.Metrics(),
	}
}

// Run blocks until ctx is cancelled, maintaining a single push session
// at a time. Dial and read failures trigger a backoff-delayed reconnect.
func (l *Listener) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = l.maxReconnectInterval

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := websocket.Dial(ctx, l.url, nil)
		if err != nil {
			l.logger.Error("push dial failed",
				observability.F("url", l.url),
				observability.F("error", err.Error()))
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = l.maxReconnectInterval
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			continue
		}

		backoffCfg.Reset()
		l.logger.Info("push channel connected", observability.F("url", l.url))

		readErr := l.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnecting")
		if errors.Is(readErr, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Error("push channel dropped",
			observability.F("error", readErr.Error()))

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = l.maxReconnectInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		l.metrics.RecordPush(ctx)
		notification := BuildNotification(ParsePayload(data))
		if l.handler != nil {
			l.handler(ctx, notification)
		}
	}
}
