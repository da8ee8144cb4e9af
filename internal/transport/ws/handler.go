package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// IdentityResolver maps a connection credential to a verified user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

type Options struct {
	// EventsPerSecond and EventBurst bound inbound events per session.
	// Zero disables the limit.
	EventsPerSecond float64
	EventBurst      int
	// OriginPatterns are passed to the upgrader; empty allows any origin.
	OriginPatterns []string
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub, resolver IdentityResolver, services Services, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := resolver.Resolve(r.Context(), tokenStr)
		if err != nil {
			slog.InfoContext(r.Context(), "ws: handshake refused", "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     opts.OriginPatterns,
			InsecureSkipVerify: len(opts.OriginPatterns) == 0,
		})
		if err != nil {
			slog.WarnContext(r.Context(), "ws: accept error", "error", err)
			return
		}

		client := NewClient(hub, conn, userID, services, newLimiter(opts))
		if err := hub.Register(client); err != nil {
			status := websocket.StatusInternalError
			if errors.Is(err, ErrHubClosed) {
				status = websocket.StatusGoingAway
			}
			conn.Close(status, err.Error())
			return
		}

		go client.WritePump()
		client.ReadPump(context.WithoutCancel(r.Context()))
	}
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.EventsPerSecond <= 0 {
		return nil
	}
	burst := opts.EventBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.EventsPerSecond), burst)
}
