package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/surety/model"
)

// Upstream event names that are not notifications.
const (
	EventJoinAdminRoom   = "join-admin-room"
	EventJoinedAdminRoom = "joined-admin-room"
)

var eventKinds = map[string]model.NotificationKind{
	"new-purchase-request":            model.KindNewRequest,
	"purchase-request-status-changed": model.KindStatusChanged,
	"purchase-request-approved":       model.KindApproved,
	"purchase-request-rejected":       model.KindRejected,
	"dashboard-stats-update":          model.KindStatsUpdate,
	"document-reupload-requested":     model.KindReuploadRequested,
}

// KindForEvent maps an upstream event name to its notification kind.
func KindForEvent(event string) (model.NotificationKind, bool) {
	k, ok := eventKinds[event]
	return k, ok
}

// EventName returns the upstream event name for kind, or "" if unknown.
func EventName(kind model.NotificationKind) string {
	for name, k := range eventKinds {
		if k == kind {
			return name
		}
	}
	return ""
}

// Frame is the JSON text message exchanged on the socket in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom is sent right after the handshake to subscribe to admin events.
type JoinRoom struct {
	AdminID string `json:"adminId"`
	Role    string `json:"role"`
}

// Payload is the decoded body of a notification event. The set of
// implementations is closed to this package.
type Payload interface {
	Kind() model.NotificationKind
	sentAt() string
}

// NewRequestPayload announces a new purchase request.
type NewRequestPayload struct {
	RequestID    string `json:"requestId"`
	CustomerName string `json:"customerName"`
	VehicleMake  string `json:"vehicleMake,omitempty"`
	VehicleModel string `json:"vehicleModel,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// StatusChangedPayload reports a purchase request moving between states.
type StatusChangedPayload struct {
	RequestID    string `json:"requestId"`
	CustomerName string `json:"customerName,omitempty"`
	OldStatus    string `json:"oldStatus,omitempty"`
	NewStatus    string `json:"newStatus"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// ApprovedPayload reports an approved purchase request.
type ApprovedPayload struct {
	RequestID    string `json:"requestId"`
	CustomerName string `json:"customerName,omitempty"`
	PolicyNumber string `json:"policyNumber,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// RejectedPayload reports a rejected purchase request.
type RejectedPayload struct {
	RequestID    string `json:"requestId"`
	CustomerName string `json:"customerName,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// StatsUpdatePayload carries refreshed dashboard counters.
type StatsUpdatePayload struct {
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Approved  int    `json:"approved"`
	Rejected  int    `json:"rejected"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ReuploadRequestedPayload reports documents a customer must upload again.
type ReuploadRequestedPayload struct {
	RequestID    string   `json:"requestId"`
	CustomerName string   `json:"customerName,omitempty"`
	Documents    []string `json:"documents,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
}

func (NewRequestPayload) Kind() model.NotificationKind        { return model.KindNewRequest }
func (StatusChangedPayload) Kind() model.NotificationKind     { return model.KindStatusChanged }
func (ApprovedPayload) Kind() model.NotificationKind          { return model.KindApproved }
func (RejectedPayload) Kind() model.NotificationKind          { return model.KindRejected }
func (StatsUpdatePayload) Kind() model.NotificationKind       { return model.KindStatsUpdate }
func (ReuploadRequestedPayload) Kind() model.NotificationKind { return model.KindReuploadRequested }

func (p NewRequestPayload) sentAt() string        { return p.Timestamp }
func (p StatusChangedPayload) sentAt() string     { return p.Timestamp }
func (p ApprovedPayload) sentAt() string          { return p.Timestamp }
func (p RejectedPayload) sentAt() string          { return p.Timestamp }
func (p StatsUpdatePayload) sentAt() string       { return p.Timestamp }
func (p ReuploadRequestedPayload) sentAt() string { return p.Timestamp }

// DecodePayload unmarshals data into the payload type of kind.
func DecodePayload(kind model.NotificationKind, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	switch kind {
	case model.KindNewRequest:
		var v NewRequestPayload
		err = json.Unmarshal(data, &v)
		p = v
	case model.KindStatusChanged:
		var v StatusChangedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case model.KindApproved:
		var v ApprovedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case model.KindRejected:
		var v RejectedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case model.KindStatsUpdate:
		var v StatsUpdatePayload
		err = json.Unmarshal(data, &v)
		p = v
	case model.KindReuploadRequested:
		var v ReuploadRequestedPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Describe builds the display notification for p. The ID combines the
// entity the event is about with the receipt time so repeated events on one
// entity stay distinct. ReceivedAt prefers the payload timestamp.
func Describe(p Payload, receivedAt time.Time) model.NotificationEvent {
	var entity, title, message string
	switch v := p.(type) {
	case NewRequestPayload:
		entity = v.RequestID
		title = "New purchase request"
		message = fmt.Sprintf("%s submitted a new purchase request", orUnknown(v.CustomerName))
		if vehicle := strings.TrimSpace(v.VehicleMake + " " + v.VehicleModel); vehicle != "" {
			message += " for " + vehicle
		}
	case StatusChangedPayload:
		entity = v.RequestID
		title = "Purchase request updated"
		if v.OldStatus != "" {
			message = fmt.Sprintf("Request %s moved from %s to %s", v.RequestID, v.OldStatus, v.NewStatus)
		} else {
			message = fmt.Sprintf("Request %s is now %s", v.RequestID, v.NewStatus)
		}
	case ApprovedPayload:
		entity = v.RequestID
		title = "Purchase request approved"
		message = fmt.Sprintf("Request %s for %s was approved", v.RequestID, orUnknown(v.CustomerName))
		if v.PolicyNumber != "" {
			message += " (policy " + v.PolicyNumber + ")"
		}
	case RejectedPayload:
		entity = v.RequestID
		title = "Purchase request rejected"
		message = fmt.Sprintf("Request %s for %s was rejected", v.RequestID, orUnknown(v.CustomerName))
		if v.Reason != "" {
			message += ": " + v.Reason
		}
	case StatsUpdatePayload:
		entity = "stats"
		title = "Dashboard updated"
		message = fmt.Sprintf("%d requests: %d pending, %d approved, %d rejected",
			v.Total, v.Pending, v.Approved, v.Rejected)
	case ReuploadRequestedPayload:
		entity = v.RequestID
		title = "Document re-upload requested"
		message = fmt.Sprintf("%s must re-upload documents for request %s", orUnknown(v.CustomerName), v.RequestID)
		if len(v.Documents) > 0 {
			message += ": " + strings.Join(v.Documents, ", ")
		}
	}
	if entity == "" {
		entity = string(p.Kind())
	}

	at := receivedAt
	if ts := p.sentAt(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			at = parsed
		}
	}

	return model.NotificationEvent{
		ID:         fmt.Sprintf("%s-%d", entity, receivedAt.UnixNano()),
		Kind:       p.Kind(),
		Title:      title,
		Message:    message,
		ReceivedAt: at,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "A customer"
	}
	return s
}
