package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

// WebhookService applies inbound channel deliveries.
type WebhookService interface {
	HandleWebhook(ctx context.Context, rawType string, payload []byte, headers http.Header) (*orchestrator.WebhookResult, error)
}

// ChannelWebhook receives a channel delivery. Authentication is the
// per-channel HMAC signature checked by the orchestrator.
func ChannelWebhook(svc WebhookService, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		if maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body too large").
					WithDetails(map[string]any{"limit": tooLarge.Limit}))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body is empty"))
			return
		}

		result, err := svc.HandleWebhook(ctx, chi.URLParam(r, "channelType"), payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		// Duplicates are acknowledged with 200 as well so the channel stops retrying.
		responses.WriteSuccess(w, result)
	}
}
