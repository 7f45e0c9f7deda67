package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing-monitor/models"
	"listing-monitor/utils"
)

// Enqueuer accepts inbound search requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, item models.QueueItem) (string, error)
}

// OffsetStore persists the id of the next Bot API update to fetch.
type OffsetStore interface {
	Load() (int, error)
	Save(offset int) error
}

// TelegramPoller turns chat messages sent to the bot into queued searches.
// Commands (text starting with "/") and non-text updates are skipped.
type TelegramPoller struct {
	sender  *TelegramSender
	queue   Enqueuer
	offsets OffsetStore
	timeout time.Duration
	logger  *utils.Logger
}

// NewTelegramPoller creates a poller on the sender's bot. timeout is the
// Bot API long-poll duration; zero makes every poll return immediately.
func NewTelegramPoller(sender *TelegramSender, queue Enqueuer, offsets OffsetStore, timeout time.Duration, logger *utils.Logger) *TelegramPoller {
	return &TelegramPoller{
		sender:  sender,
		queue:   queue,
		offsets: offsets,
		timeout: timeout,
		logger:  logger,
	}
}

// PollOnce fetches one batch of updates and queues every search request in
// it. The offset advances past each update once it is queued, so a failed
// enqueue is fetched again on the next poll. It returns the number queued.
func (p *TelegramPoller) PollOnce(ctx context.Context) (int, error) {
	offset, err := p.offsets.Load()
	if err != nil {
		return 0, fmt.Errorf("telegram: load offset: %w", err)
	}

	updates, err := p.getUpdates(ctx, offset)
	if err != nil {
		return 0, err
	}
	if len(updates) > 0 {
		p.logger.Info("[poller] Received %d updates", len(updates))
	}

	queued := 0
	for _, u := range updates {
		if item, ok := searchRequest(u); ok {
			id, err := p.queue.Enqueue(ctx, item)
			if err != nil {
				return queued, fmt.Errorf("telegram: queue update %d: %w", u.UpdateID, err)
			}
			queued++
			p.logger.Info("[poller] Queued %q from @%s as %s", item.Query, item.Username, id)
			p.confirm(ctx, item)
		}
		if err := p.offsets.Save(u.UpdateID + 1); err != nil {
			return queued, fmt.Errorf("telegram: save offset: %w", err)
		}
	}
	return queued, nil
}

// Run polls until ctx is done, pausing idle after a failed poll.
func (p *TelegramPoller) Run(ctx context.Context, idle time.Duration) {
	p.logger.Info("[poller] Listening for search requests")
	for ctx.Err() == nil {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("[poller] Poll failed: %v", err)
			if utils.Sleep(ctx, idle) != nil {
				break
			}
		}
	}
	p.logger.Info("[poller] Stopped")
}

func (p *TelegramPoller) getUpdates(ctx context.Context, offset int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.UpdateConfig{
		Offset:         offset,
		Limit:          100,
		Timeout:        int(p.timeout / time.Second),
		AllowedUpdates: []string{"message"},
	}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := p.sender.bot.GetUpdates(cfg)
		done <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("telegram: get updates: %w", r.err)
		}
		return r.updates, nil
	}
}

func (p *TelegramPoller) confirm(ctx context.Context, item models.QueueItem) {
	text := fmt.Sprintf("🔍 Ищу на Avito: *%s*\n⏳ Результаты придут через 1-3 минуты!", EscapeMarkdown(item.Query))
	if err := p.sender.Send(ctx, Message{Recipient: item.Recipient, Text: text}); err != nil {
		p.logger.With("recipient", item.Recipient).Warn("[poller] Confirmation failed: %v", err)
	}
}

// searchRequest extracts a queue item from a plain text message.
func searchRequest(u tgbotapi.Update) (models.QueueItem, bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return models.QueueItem{}, false
	}
	query := strings.TrimSpace(msg.Text)
	if query == "" || strings.HasPrefix(query, "/") {
		return models.QueueItem{}, false
	}

	username := "unknown"
	if msg.From != nil && msg.From.UserName != "" {
		username = msg.From.UserName
	}
	return models.QueueItem{
		Query:     query,
		Recipient: strconv.FormatInt(msg.Chat.ID, 10),
		Username:  username,
	}, true
}
