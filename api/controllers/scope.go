package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
)

func storeScope(r *http.Request) (uuid.UUID, error) {
	raw := middleware.StoreIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store id")
	}
	return id, nil
}

func pathUUID(r *http.Request, param, label string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label).
			WithDetails(map[string]any{"field": param})
	}
	return id, nil
}

// actorRef attributes emitted events to the calling operator.
func actorRef(r *http.Request, storeID uuid.UUID) *outbox.ActorRef {
	ref := &outbox.ActorRef{StoreID: storeID, Source: outbox.SourceAPI}
	if uid, err := uuid.Parse(middleware.UserIDFromContext(r.Context())); err == nil {
		ref.UserID = &uid
	}
	return ref
}

func actorName(r *http.Request) string {
	if uid := middleware.UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "api"
}
