// Package events publishes resource lifecycle notifications over NATS.
package events

import (
	"context"
	"time"

	"github.com/cyverse/cloudgw/internal/lifecycle"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/logging"
	"github.com/sirupsen/logrus"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "events"})

// Event types.
const (
	TypeCreated       = "created"
	TypeStatusChanged = "status_changed"
	TypeDeleted       = "deleted"
	TypeRestored      = "restored"
	TypeForceDeleted  = "force_deleted"
)

// ResourceEvent is the message published for a lifecycle change.
type ResourceEvent struct {
	Type           string       `json:"type"`
	ResourceID     string       `json:"resource_id"`
	OwnerID        string       `json:"owner_id"`
	ProviderID     *int64       `json:"provider_id,omitempty"`
	Name           string       `json:"name"`
	Status         model.Status `json:"status"`
	PreviousStatus model.Status `json:"previous_status,omitempty"`
	PrincipalID    string       `json:"principal_id"`
	OccurredAt     string       `json:"occurred_at"`
}

// Publisher sends a message to a subject. *nats.EncodedConn satisfies it.
type Publisher interface {
	Publish(subject string, v interface{}) error
}

// Observer publishes lifecycle events. Publication failures are logged and never refuse or report a mutation.
type Observer struct {
	lifecycle.Base
	publisher Publisher
	subject   string
}

// NewObserver returns an observer that publishes to the given subject.
func NewObserver(publisher Publisher, subject string) *Observer {
	return &Observer{publisher: publisher, subject: subject}
}

func (o *Observer) publish(eventType string, e *lifecycle.Event) {
	r := e.Resource
	msg := &ResourceEvent{
		Type:        eventType,
		ResourceID:  r.ID,
		OwnerID:     r.OwnerID,
		ProviderID:  r.ProviderID,
		Name:        r.Name,
		Status:      r.Status,
		PrincipalID: e.Principal.ID,
		OccurredAt:  e.At.UTC().Format(time.RFC3339),
	}
	if e.Original != nil && e.Original.Status != r.Status {
		msg.PreviousStatus = e.Original.Status
	}

	if err := o.publisher.Publish(o.subject, msg); err != nil {
		log.WithFields(logrus.Fields{
			"context":  "publish",
			"type":     eventType,
			"resource": r.ID,
		}).Errorf("unable to publish the event: %s", err)
	}
}

func (o *Observer) Created(_ context.Context, e *lifecycle.Event) error {
	o.publish(TypeCreated, e)
	return nil
}

func (o *Observer) Updated(_ context.Context, e *lifecycle.Event) error {
	if e.StatusChanged() {
		o.publish(TypeStatusChanged, e)
	}
	return nil
}

func (o *Observer) Deleted(_ context.Context, e *lifecycle.Event) error {
	o.publish(TypeDeleted, e)
	return nil
}

func (o *Observer) Restored(_ context.Context, e *lifecycle.Event) error {
	o.publish(TypeRestored, e)
	return nil
}

func (o *Observer) ForceDeleted(_ context.Context, e *lifecycle.Event) error {
	o.publish(TypeForceDeleted, e)
	return nil
}
