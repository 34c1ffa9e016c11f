package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/notify"
	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// NotificationHub manages admin notification feeds.
type NotificationHub interface {
	Connect(ctx context.Context, subjectID string) error
	Disconnect(subjectID string) bool
	Status(subjectID string) model.NotificationStatus
	Dismiss(subjectID, notificationID string) bool
	Subscribe(subjectID string, fn func(model.NotificationEvent)) (remove func(), done <-chan struct{}, err error)
}

// Stream message types sent to the browser.
const (
	StreamSnapshot     = "snapshot"
	StreamNotification = "notification"
)

// StreamMessage is one frame on the notification stream.
type StreamMessage struct {
	Type         string                    `json:"type"`
	Status       *model.NotificationStatus `json:"status,omitempty"`
	Notification *model.NotificationEvent  `json:"notification,omitempty"`
}

const (
	streamSendBuffer = 16
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

func subjectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return "", false
	}
	return rctx.SubjectID, true
}

// handleNotificationsConnect handles POST /ui/admin/notifications/connect.
// A failed connect still answers with the indicator so the dashboard can
// show the disconnected state.
func handleNotificationsConnect(hub NotificationHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := subjectID(w, r)
		if !ok {
			return
		}

		if err := hub.Connect(r.Context(), subject); err != nil {
			if _, isEnvelope := model.AsEnvelope(err); isEnvelope {
				WriteError(w, err)
				return
			}
			if errors.Is(err, notify.ErrNoCredential) {
				WriteError(w, model.NewUnauthorizedError("Sign in again to receive notifications"))
				return
			}
			observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("notification connect failed", zap.Error(err))
			WriteError(w, model.NewBackendUnavailableError())
			return
		}
		WriteJSON(w, http.StatusOK, hub.Status(subject))
	}
}

// handleNotificationsDisconnect handles POST /ui/admin/notifications/disconnect.
func handleNotificationsDisconnect(hub NotificationHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := subjectID(w, r)
		if !ok {
			return
		}

		hub.Disconnect(subject)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleNotificationsStatus handles GET /ui/admin/notifications.
func handleNotificationsStatus(hub NotificationHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := subjectID(w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, hub.Status(subject))
	}
}

// handleNotificationDismiss handles DELETE /ui/admin/notifications/{id}.
func handleNotificationDismiss(hub NotificationHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := subjectID(w, r)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if !hub.Dismiss(subject, id) {
			WriteNotFound(w, "notification "+id+" not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// newUpgrader accepts same-host requests, requests without an Origin
// header, and the configured CORS origins.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// handleNotificationStream handles GET /ui/admin/notifications/stream. It
// upgrades to a websocket, sends the current status, then every
// notification accepted into the admin's buffer until either side goes away
// or the admin disconnects.
func handleNotificationStream(hub NotificationHub, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := subjectID(w, r)
		if !ok {
			return
		}
		logger := observability.LoggerFrom(r.Context(), zap.NewNop())

		send := make(chan model.NotificationEvent, streamSendBuffer)
		remove, done, err := hub.Subscribe(subject, func(ev model.NotificationEvent) {
			select {
			case send <- ev:
			default:
				logger.Warn("notification stream is behind, dropping event", zap.String("id", ev.ID))
			}
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		defer remove()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			logger.Info("notification stream upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		closed := make(chan struct{})
		go readUntilClosed(conn, closed)

		status := hub.Status(subject)
		if err := writeFrame(conn, StreamMessage{Type: StreamSnapshot, Status: &status}); err != nil {
			return
		}

		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "notifications disconnected"),
					time.Now().Add(streamWriteWait))
				return
			case ev := <-send:
				if err := writeFrame(conn, StreamMessage{Type: StreamNotification, Notification: &ev}); err != nil {
					logger.Info("notification stream write failed", zap.Error(err))
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// readUntilClosed discards client frames, keeping pong deadlines fresh, and
// closes closed when the connection ends.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
