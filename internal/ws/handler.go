package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jackport-sync/internal/client"
	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

const subscriberBuffer = 8

// Handler streams state views to a local presentation client and accepts its
// commands on the same socket.
func Handler(f *client.Facade, log *zap.Logger) http.HandlerFunc {
	log = log.Named("consumer")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := log.With(zap.String("client_id", clientID))

		views, unsubscribe, err := f.Subscribe(r.Context(), clientID, subscriberBuffer)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "state unavailable")
			return
		}
		defer unsubscribe()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for v := range views {
				msg := types.ConsumerUpdate{Type: "StateSnapshot", Version: v.Version, State: v}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
			if writeCtx.Err() == nil {
				// The store dropped us; make the reader loop return too.
				conn.Close(websocket.StatusTryAgainLater, "fell behind")
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("consumer left")
				default:
					log.Debug("consumer read failed", zap.Error(err))
				}
				return
			}

			var cm types.ConsumerMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			if !runCommand(r.Context(), f, cm) {
				writeError(r.Context(), conn, "unknown type")
			}
		}
	}
}

func runCommand(ctx context.Context, f *client.Facade, m types.ConsumerMessage) bool {
	switch m.Type {
	case "ClearGame":
		_ = f.ClearGame(ctx)
	case "ReloadGame":
		f.ReloadGameSnapshot(ctx)
	case "SetSessionFlag":
		_ = f.SetSessionFlag(ctx, m.Value)
	default:
		return false
	}
	return true
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ConsumerUpdate{Type: "Error", Error: msg})
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
