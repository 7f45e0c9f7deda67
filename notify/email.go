package notify

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// EmailSender delivers messages over SMTP. Recipients are e-mail addresses.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailSender configures the SMTP dialer.
func NewEmailSender(host string, port int, username, password, from string) (*EmailSender, error) {
	if host == "" || port == 0 || from == "" {
		return nil, fmt.Errorf("email: SMTP host, port and sender must be configured")
	}
	return &EmailSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if !strings.Contains(msg.Recipient, "@") {
		return fmt.Errorf("email: invalid address %q", msg.Recipient)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", emailSubject(msg.Text))
	m.SetBody("text/plain", plainBody(msg))

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("email: send cancelled or timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: send: %w", err)
		}
		return nil
	}
}

var markdownStripper = strings.NewReplacer(`\_`, `_`, `\*`, `*`, "\\`", "`", `\[`, `[`, `*`, ``)

// emailSubject is the first non-empty line of the text without markup.
func emailSubject(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(markdownStripper.Replace(line)); line != "" {
			return Truncate(line, 120)
		}
	}
	return "listing-monitor"
}

func plainBody(msg Message) string {
	body := markdownStripper.Replace(msg.Text)
	if msg.ButtonURL != "" {
		body += "\n\n" + msg.ButtonURL
	}
	return body
}
