package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/google/uuid"
)

// Context is the federation client the engine and the inbox handlers talk
// to. It is constructed once in main and injected; nothing in this package
// reaches for a process-wide instance. Tests substitute a recording fake.
type Context interface {
	// Host is the federation host this server answers for.
	Host() string
	// ActorURI builds the canonical IRI of a local actor.
	ActorURI(username string) string
	// InboxURI builds the personal inbox IRI of a local actor.
	InboxURI(username string) string
	// SharedInboxURI is the instance-wide inbox IRI.
	SharedInboxURI() string
	// SendActivity delivers an activity from a local actor to a remote
	// one. Delivery is asynchronous; an error means the activity could
	// not even be queued.
	SendActivity(sender *domain.Actor, recipient *domain.Actor, activity map[string]interface{}) error
}

// QueueContext is the production Context. Outbound activities are written
// to the delivery queue and picked up by the delivery worker, which signs
// and POSTs them with retry.
type QueueContext struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewQueueContext(database *db.DB, conf *util.AppConfig) *QueueContext {
	return &QueueContext{db: database, conf: conf}
}

func (c *QueueContext) Host() string {
	return c.conf.Conf.SslDomain
}

func (c *QueueContext) ActorURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s", c.Host(), username)
}

func (c *QueueContext) InboxURI(username string) string {
	return c.ActorURI(username) + "/inbox"
}

func (c *QueueContext) SharedInboxURI() string {
	return fmt.Sprintf("https://%s/inbox", c.Host())
}

func (c *QueueContext) SendActivity(sender *domain.Actor, recipient *domain.Actor, activity map[string]interface{}) error {
	inbox := recipient.SharedInboxURI
	if inbox == "" {
		inbox = recipient.InboxURI
	}
	if inbox == "" {
		return fmt.Errorf("recipient %s has no inbox", recipient.IRI)
	}

	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	now := time.Now()
	return c.db.EnqueueDelivery(&db.DeliveryQueueItem{
		Id:            uuid.New(),
		InboxURI:      inbox,
		SenderActorId: sender.Id,
		ActivityJSON:  string(activityJSON),
		Attempts:      0,
		NextRetryAt:   now,
		CreatedAt:     now,
	})
}
