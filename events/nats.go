package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"listing-monitor/metrics"
	"listing-monitor/models"
	"listing-monitor/utils"
)

const (
	SubjectNewListing     = "listings.new"
	SubjectSearchFinished = "searches.completed"
)

// Publisher announces pipeline events to other services.
type Publisher interface {
	PublishListing(ctx context.Context, l models.Listing, recipients []string) error
	PublishSearch(ctx context.Context, rec models.SearchRecord) error
	Close()
}

// NewListingEvent is the payload on SubjectNewListing.
type NewListingEvent struct {
	Listing    models.Listing `json:"listing"`
	Recipients []string       `json:"recipients,omitempty"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	conn    *nats.Conn
	logger  *utils.Logger
	publish func(subject string, data []byte) error
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string, logger *utils.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("listing-monitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("[events] NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, logger: logger, publish: conn.Publish}, nil
}

// PublishListing announces l together with the recipients it reached.
func (p *NATSPublisher) PublishListing(ctx context.Context, l models.Listing, recipients []string) error {
	return p.send(ctx, SubjectNewListing, NewListingEvent{Listing: l, Recipients: recipients, EmittedAt: time.Now()})
}

func (p *NATSPublisher) PublishSearch(ctx context.Context, rec models.SearchRecord) error {
	return p.send(ctx, SubjectSearchFinished, rec)
}

func (p *NATSPublisher) send(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", subject, err)
	}
	err = p.publish(subject, data)
	metrics.NatsMessagesPublished.WithLabelValues(subject, metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishListing(context.Context, models.Listing, []string) error { return nil }
func (NopPublisher) PublishSearch(context.Context, models.SearchRecord) error       { return nil }
func (NopPublisher) Close()                                                          {}
