package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
}

// InitSentry initialises the global Sentry hub.
func InitSentry(cfg SentryConfig, logger *zap.Logger) error {
	if cfg.DSN == "" {
		logger.Warn("sentry dsn not configured, error tracking disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  cfg.ServerName,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Cookie")
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}

	logger.Info("sentry initialised", zap.String("environment", cfg.Environment))
	return nil
}

// CaptureException reports err with string tags attached to a scoped event.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		sentry.CaptureException(err)
	})
}

// PanicError converts a recovered value into an error.
func PanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", recovered)
}

// FlushSentry waits for buffered events to be sent.
func FlushSentry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
