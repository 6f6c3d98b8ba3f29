package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/jackport-sync/internal/client"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, client.ErrStopped) {
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func GetState(f *client.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := f.View(r.Context())
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func ClearGame(f *client.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f.ClearGame(r.Context()); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ReloadGame is best effort: a failed fetch still answers 202 and leaves state as is.
func ReloadGame(f *client.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.ReloadGameSnapshot(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}
}

func SetSessionFlag(f *client.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Started *bool `json:"started"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Started == nil {
			http.Error(w, "expected {\"started\": bool}", http.StatusBadRequest)
			return
		}
		if err := f.SetSessionFlag(r.Context(), *body.Started); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
