// Package server exposes the thermostat platform over HTTP, websocket,
// Prometheus and gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/rate"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

// Platform is what the host surfaces need from the thermostat platform.
type Platform interface {
	thermostat.StateSource
	thermostat.Commander
	TargetTemperature(ctx context.Context, deviceID string) (float64, error)
	Discover(ctx context.Context) error
}

type API struct {
	platform Platform
	hub      *Hub
	log      *logging.Logger
}

func NewAPI(platform Platform, hub *Hub, log *logging.Logger) *API {
	if log == nil {
		log = logging.Nop()
	}
	return &API{platform: platform, hub: hub, log: log.Named("http")}
}

// NewRouter builds the HTTP routing tree. metrics may be nil.
func NewRouter(api *API, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", api.health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	if api.hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			api.hub.Serve(w, r, api.platform.States)
		})
	}

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(middleware.Timeout(90 * time.Second))
		apiRouter.Get("/thermostats", api.listThermostats)
		apiRouter.Get("/thermostats/{id}", func(w http.ResponseWriter, r *http.Request) {
			api.getThermostat(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Put("/thermostats/{id}/mode", func(w http.ResponseWriter, r *http.Request) {
			api.setMode(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Get("/thermostats/{id}/temperature", func(w http.ResponseWriter, r *http.Request) {
			api.getTemperature(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Put("/thermostats/{id}/temperature", func(w http.ResponseWriter, r *http.Request) {
			api.setTemperature(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/discover", api.discover)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": len(a.platform.States()),
	})
}

func (a *API) listThermostats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"thermostats": a.platform.States()})
}

func (a *API) getThermostat(w http.ResponseWriter, _ *http.Request, id string) {
	state, ok := a.platform.State(id)
	if !ok {
		writeError(w, thermostat.ErrUnknownDevice)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) setMode(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	desired, err := model.ParseTargetState(body.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	got, err := a.platform.SetTargetMode(r.Context(), id, desired)
	if err != nil {
		a.log.Warnw("set mode failed", "device_id", id, "mode", desired, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": got})
}

func (a *API) getTemperature(w http.ResponseWriter, r *http.Request, id string) {
	celsius, err := a.platform.TargetTemperature(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"celsius": celsius})
}

func (a *API) setTemperature(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Celsius *float64 `json:"celsius"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Celsius == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"celsius\": <number>}"})
		return
	}
	ack, err := a.platform.SetTargetTemperature(r.Context(), id, *body.Celsius)
	if err != nil {
		a.log.Warnw("set temperature failed", "device_id", id, "celsius", *body.Celsius, "err", err)
		writeError(w, err)
		return
	}
	state, _ := a.platform.State(id)
	writeJSON(w, http.StatusOK, map[string]any{"value": ack, "scale": state.TemperatureScale})
}

func (a *API) discover(w http.ResponseWriter, r *http.Request) {
	if err := a.platform.Discover(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": len(a.platform.States())})
}

func httpStatus(err error) int {
	var limitErr rate.LimitError
	switch {
	case errors.Is(err, thermostat.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, thermostat.ErrInvalidTargetState):
		return http.StatusBadRequest
	case errors.Is(err, thermostat.ErrStructureUnavailable), errors.Is(err, thermostat.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &limitErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
