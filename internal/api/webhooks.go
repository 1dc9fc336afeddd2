package api

import (
	"context"
	"io"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/syncgw"
	"example.com/devicesync/internal/vendor"
)

// maxWebhookBody caps a single provider push.
const maxWebhookBody = 10 << 20

type pushFunc func(ctx context.Context, payload vendor.PushPayload) syncgw.PushReport

// webhook always answers 200 {"success":true}; failures are only logged and reported to Sentry.
func (h *Handler) webhook(kind string, push pushFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err := observability.PanicError(recovered)
				h.logger.Error("webhook handler panicked",
					zap.String("kind", kind),
					zap.Error(err),
					zap.ByteString("stack", debug.Stack()),
				)
				observability.CaptureException(err, map[string]string{"component": "webhook", "kind": kind})
				writeJSON(w, http.StatusOK, WebhookResponse{Success: true})
			}
		}()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			h.logger.Warn("webhook body read failed", zap.String("kind", kind), zap.Error(err))
			writeJSON(w, http.StatusOK, WebhookResponse{Success: true})
			return
		}

		payload, err := vendor.DecodePush(body)
		if err != nil {
			h.logger.Warn("webhook body is not a push payload", zap.String("kind", kind), zap.Error(err))
			writeJSON(w, http.StatusOK, WebhookResponse{Success: true})
			return
		}

		// Keep processing if the provider hangs up; the push deadline still bounds it.
		report := push(context.WithoutCancel(r.Context()), payload)
		h.logger.Info("webhook processed",
			zap.String("kind", kind),
			zap.Int("received", report.Received),
			zap.Int("ingested", report.Ingested),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
		writeJSON(w, http.StatusOK, WebhookResponse{Success: true})
	}
}
