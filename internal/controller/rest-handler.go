package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/sharetube/watchsync/pkg/rest"
)

type setSourceInput struct {
	SourceURL   string `json:"source_url" validate:"required,url,max=2048"`
	SourceKind  string `json:"source_kind" validate:"omitempty,oneof=direct hls embedded"`
	ContentType string `json:"content_type" validate:"omitempty,max=255"`
}

func (c *controller) setSource(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")

	var req setSourceInput
	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.InfoContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(r.Context(), "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	setSourceResp, err := c.relayService.SetSource(r.Context(), &relay.SetSourceParams{
		RoomID:      roomId,
		SourceURL:   req.SourceURL,
		SourceKind:  domain.SourceKind(req.SourceKind),
		ContentType: req.ContentType,
	})
	if err != nil {
		if errors.Is(err, relay.ErrInvalidSource) {
			rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"error": err.Error()})
			return
		}
		c.logger.WarnContext(r.Context(), "failed to set source", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	if err := c.broadcast(r.Context(), setSourceResp.Conns, &Output{
		Type:    "SYNC_EVENT",
		Payload: setSourceResp.Event,
	}); err != nil {
		c.logger.InfoContext(r.Context(), "failed to broadcast source", "error", err)
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": setSourceResp.State})
}

func (c *controller) getState(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")

	state, err := c.relayService.GetSnapshot(r.Context(), roomId)
	if err != nil {
		if errors.Is(err, relay.ErrStateNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room has no playback state"})
			return
		}
		c.logger.WarnContext(r.Context(), "failed to get state", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": state})
}
