package notify

import (
	"context"
	"strings"

	"listing-monitor/utils"
)

// LogSender only logs messages. It backs dry runs and the log channel.
type LogSender struct {
	logger *utils.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *utils.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.With("recipient", msg.Recipient).Info("[notify] %s %s", strings.ReplaceAll(msg.Text, "\n", " | "), msg.ButtonURL)
	return nil
}
