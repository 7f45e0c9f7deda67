package notify

import (
	"context"
	"fmt"
	"time"

	"listing-monitor/models"
	"listing-monitor/utils"
)

// Message is one outbound notification. ButtonText/ButtonURL describe an
// optional link button.
type Message struct {
	Recipient  string
	Text       string
	ButtonText string
	ButtonURL  string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError wraps a failed send. It never aborts a batch.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DeliveryResult is the outcome of one send. Attempted is false only when
// the send was never handed to the channel.
type DeliveryResult struct {
	Recipient string
	ListingID string
	Attempted bool
	Err       error
}

// Delivered reports a successful send.
func (r DeliveryResult) Delivered() bool {
	return r.Attempted && r.Err == nil
}

// Dispatcher formats listings and sends them through a Sender, keeping a
// minimum gap between any two consecutive sends.
type Dispatcher struct {
	sender  Sender
	pacer   *utils.Pacer
	timeout time.Duration
	logger  *utils.Logger
}

// NewDispatcher creates a Dispatcher. interval is the minimum gap between
// sends; timeout bounds each send.
func NewDispatcher(sender Sender, interval, timeout time.Duration, logger *utils.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		pacer:   utils.NewPacer(interval),
		timeout: timeout,
		logger:  logger,
	}
}

// Notify sends one listing to one recipient.
func (d *Dispatcher) Notify(ctx context.Context, recipient string, l models.Listing) DeliveryResult {
	msg := FormatListing(l)
	msg.Recipient = recipient
	res := d.send(ctx, msg)
	res.ListingID = l.ID
	if res.Err != nil {
		d.logger.With("query", l.Query, "item", l.ID, "recipient", recipient).
			Warn("[notify] Delivery failed: %v", res.Err)
	}
	return res
}

// NotifyAll sends one listing to every recipient in turn. A failure for
// one recipient does not stop the others.
func (d *Dispatcher) NotifyAll(ctx context.Context, recipients []string, l models.Listing) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(recipients))
	for _, r := range recipients {
		results = append(results, d.Notify(ctx, r, l))
	}
	return results
}

// SendText sends a plain text message.
func (d *Dispatcher) SendText(ctx context.Context, recipient, text string) error {
	res := d.send(ctx, Message{Recipient: recipient, Text: Truncate(text, MaxMessageRunes)})
	if res.Err != nil {
		d.logger.With("recipient", recipient).Warn("[notify] Text delivery failed: %v", res.Err)
	}
	return res.Err
}

func (d *Dispatcher) send(ctx context.Context, msg Message) DeliveryResult {
	res := DeliveryResult{Recipient: msg.Recipient}
	if err := d.pacer.Wait(ctx); err != nil {
		res.Err = &DeliveryError{Recipient: msg.Recipient, Err: err}
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res.Attempted = true
	if err := d.sender.Send(sendCtx, msg); err != nil {
		res.Err = &DeliveryError{Recipient: msg.Recipient, Err: err}
	}
	return res
}

// Succeeded counts delivered results.
func Succeeded(results []DeliveryResult) int {
	n := 0
	for _, r := range results {
		if r.Delivered() {
			n++
		}
	}
	return n
}

// AnyAttempted reports whether at least one send reached the channel.
func AnyAttempted(results []DeliveryResult) bool {
	for _, r := range results {
		if r.Attempted {
			return true
		}
	}
	return false
}
