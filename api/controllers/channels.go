package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	"github.com/angelmondragon/channelstock-backend/api/validators"
	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
)

// ChannelService is the orchestrator surface for channel management.
type ChannelService interface {
	ListChannels(ctx context.Context, storeID uuid.UUID) ([]models.Channel, error)
	Definitions() []connectors.Definition
	ConnectChannel(ctx context.Context, storeID uuid.UUID, in orchestrator.ConnectInput) (*orchestrator.ConnectResult, error)
	DisconnectChannel(ctx context.Context, storeID, channelID uuid.UUID, actor *outbox.ActorRef) error
	SyncChannelInventory(ctx context.Context, storeID, channelID uuid.UUID) (*orchestrator.ChannelSyncResult, error)
}

// ChannelList returns every channel of the calling store.
func ChannelList(svc ChannelService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "channel service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channels, err := svc.ListChannels(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]channelView, 0, len(channels))
		for _, ch := range channels {
			out = append(out, newChannelView(ch))
		}
		responses.WriteSuccess(w, out)
	}
}

type channelTypeView struct {
	Type         enums.ChannelType `json:"type"`
	DisplayName  string            `json:"display_name"`
	SupportsRead bool              `json:"supports_read"`
}

// ChannelTypes lists the connector types this deployment supports.
func ChannelTypes(svc ChannelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defs := svc.Definitions()
		out := make([]channelTypeView, 0, len(defs))
		for _, d := range defs {
			out = append(out, channelTypeView{Type: d.Type, DisplayName: d.DisplayName, SupportsRead: d.SupportsRead})
		}
		responses.WriteSuccess(w, out)
	}
}

type connectChannelRequest struct {
	Type          string                 `json:"type" validate:"required,channel_type"`
	Name          string                 `json:"name,omitempty" validate:"omitempty,max=120"`
	ExternalRef   string                 `json:"external_ref,omitempty" validate:"omitempty,max=255"`
	Credentials   connectors.Credentials `json:"credentials"`
	WebhookSecret *string                `json:"webhook_secret,omitempty"`
	Priority      int                    `json:"priority,omitempty" validate:"omitempty,min=1,max=100"`
	SyncEnabled   *bool                  `json:"sync_enabled,omitempty"`
}

type connectChannelResponse struct {
	Channel      channelView `json:"channel"`
	Bootstrapped int         `json:"bootstrapped"`
}

// ChannelConnect validates credentials against the channel and stores them sealed.
func ChannelConnect(svc ChannelService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "channel service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload connectChannelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channelType, err := enums.ParseChannelType(strings.TrimSpace(payload.Type))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid channel type"))
			return
		}

		result, err := svc.ConnectChannel(r.Context(), storeID, orchestrator.ConnectInput{
			Type:          channelType,
			Name:          validators.SanitizeString(payload.Name, 120),
			ExternalRef:   strings.TrimSpace(payload.ExternalRef),
			Credentials:   payload.Credentials,
			WebhookSecret: payload.WebhookSecret,
			Priority:      payload.Priority,
			SyncEnabled:   payload.SyncEnabled,
			Actor:         actorRef(r, storeID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, connectChannelResponse{
			Channel:      newChannelView(result.Channel),
			Bootstrapped: result.Bootstrapped,
		})
	}
}

// ChannelDisconnect removes a channel's credentials, listings and allocations.
func ChannelDisconnect(svc ChannelService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "channel service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channelID, err := pathUUID(r, "channelId", "channel id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DisconnectChannel(r.Context(), storeID, channelID, actorRef(r, storeID)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ChannelSync pushes current allocations to a single channel synchronously.
func ChannelSync(svc ChannelService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "channel service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channelID, err := pathUUID(r, "channelId", "channel id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.SyncChannelInventory(r.Context(), storeID, channelID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
