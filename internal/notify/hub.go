package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/surety/model"
)

// Recorder receives notification metrics.
type Recorder interface {
	RecordNotificationReceived(kind string)
	RecordNotificationDropped(reason string)
	RecordSocketConnect(result string)
	SetSocketsConnected(n float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotificationReceived(string) {}
func (nopRecorder) RecordNotificationDropped(string)  {}
func (nopRecorder) RecordSocketConnect(string)        {}
func (nopRecorder) SetSocketsConnected(float64)       {}

// CredentialsFunc returns the credentials of an admin subject.
type CredentialsFunc func(subjectID string) Credentials

// HubConfig configures a Hub.
type HubConfig struct {
	Client    ClientConfig
	MaxBuffer int
}

type adminSession struct {
	client *Client
	feed   *Feed
}

// Hub owns one socket client and notification feed per admin subject.
type Hub struct {
	cfg      HubConfig
	creds    CredentialsFunc
	logger   *zap.Logger
	recorder Recorder

	mu       sync.Mutex
	sessions map[string]*adminSession
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig, creds CredentialsFunc, logger *zap.Logger, recorder Recorder) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Hub{
		cfg:      cfg,
		creds:    creds,
		logger:   logger,
		recorder: recorder,
		sessions: make(map[string]*adminSession),
	}
}

func (h *Hub) session(subjectID string) *adminSession {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[subjectID]
	if ok {
		return s
	}
	client := NewClient(h.cfg.Client, h.creds(subjectID), h.logger.With(zap.String("admin_id", subjectID)))
	s = &adminSession{
		client: client,
		feed:   NewFeed(context.Background(), client, NewBuffer(h.cfg.MaxBuffer), h.recorder),
	}
	h.sessions[subjectID] = s
	return s
}

// Connect opens the admin's socket, creating its feed on first use. The feed
// and its buffer survive a failed connect so the indicator can be polled.
func (h *Hub) Connect(ctx context.Context, subjectID string) error {
	s := h.session(subjectID)
	err := s.client.Connect(ctx)
	if err != nil {
		h.recorder.RecordSocketConnect("failure")
	} else {
		h.recorder.RecordSocketConnect("success")
	}
	h.recorder.SetSocketsConnected(float64(h.ConnectedCount()))
	return err
}

// Disconnect closes the admin's socket and discards the feed. It reports
// whether the admin had a feed.
func (h *Hub) Disconnect(subjectID string) bool {
	h.mu.Lock()
	s, ok := h.sessions[subjectID]
	delete(h.sessions, subjectID)
	h.mu.Unlock()

	if !ok {
		return false
	}
	s.client.Disconnect()
	s.feed.Close()
	h.recorder.SetSocketsConnected(float64(h.ConnectedCount()))
	return true
}

// Status returns the connectivity indicator and buffered notifications.
func (h *Hub) Status(subjectID string) model.NotificationStatus {
	h.mu.Lock()
	s, ok := h.sessions[subjectID]
	h.mu.Unlock()

	if !ok {
		return model.NotificationStatus{Notifications: []model.NotificationEvent{}}
	}
	return model.NotificationStatus{
		Connected:     s.client.Connected(),
		Notifications: s.feed.Buffer().Snapshot(),
	}
}

// Dismiss removes one notification from the admin's buffer.
func (h *Hub) Dismiss(subjectID, notificationID string) bool {
	h.mu.Lock()
	s, ok := h.sessions[subjectID]
	h.mu.Unlock()

	if !ok {
		return false
	}
	return s.feed.Buffer().Dismiss(notificationID)
}

// Subscribe streams notifications accepted into the admin's buffer. The
// returned done channel closes when the admin disconnects.
func (h *Hub) Subscribe(subjectID string, fn func(model.NotificationEvent)) (remove func(), done <-chan struct{}, err error) {
	h.mu.Lock()
	s, ok := h.sessions[subjectID]
	h.mu.Unlock()

	if !ok {
		return nil, nil, model.NewNotConnectedError("notifications are not connected for this admin")
	}
	return s.feed.OnNotification(fn), s.feed.Done(), nil
}

// ConnectedCount returns how many admins have an open socket.
func (h *Hub) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, s := range h.sessions {
		if s.client.Connected() {
			n++
		}
	}
	return n
}

// Close disconnects every admin.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}
