package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-monitor/models"
	"listing-monitor/utils"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Message
	times []time.Time
	fail  map[string]error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	s.times = append(s.times, time.Now())
	return s.fail[msg.Recipient]
}

func TestNotifyAllIsolatesRecipientFailures(t *testing.T) {
	sender := &recordingSender{fail: map[string]error{"2": errors.New("blocked by user")}}
	d := NewDispatcher(sender, 0, time.Second, utils.NewNopLogger())

	results := d.NotifyAll(context.Background(), []string{"1", "2", "3"}, models.Listing{ID: "a", Title: "t", Query: "q"})

	require.Len(t, results, 3)
	assert.Len(t, sender.sent, 3, "a failure does not stop later recipients")
	assert.True(t, results[0].Delivered())
	assert.False(t, results[1].Delivered())
	assert.True(t, results[1].Attempted)
	assert.True(t, results[2].Delivered())
	assert.Equal(t, "a", results[1].ListingID)

	var de *DeliveryError
	require.ErrorAs(t, results[1].Err, &de)
	assert.Equal(t, "2", de.Recipient)

	assert.Equal(t, 2, Succeeded(results))
	assert.True(t, AnyAttempted(results))
}

func TestDispatcherPacesConsecutiveSends(t *testing.T) {
	sender := &recordingSender{}
	interval := 40 * time.Millisecond
	d := NewDispatcher(sender, interval, time.Second, utils.NewNopLogger())

	l := models.Listing{ID: "a", Title: "t", Query: "q"}
	d.NotifyAll(context.Background(), []string{"1", "2"}, l)
	d.Notify(context.Background(), "1", models.Listing{ID: "b", Title: "t", Query: "q"})

	require.Len(t, sender.times, 3)
	for i := 1; i < len(sender.times); i++ {
		gap := sender.times[i].Sub(sender.times[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "gap %d", i)
	}
}

func TestDispatcherCancelledContextIsNotAnAttempt(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, time.Hour, time.Second, utils.NewNopLogger())
	require.NoError(t, d.SendText(context.Background(), "1", "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Notify(ctx, "1", models.Listing{ID: "a"})

	assert.False(t, res.Attempted)
	assert.Error(t, res.Err)
	assert.Len(t, sender.sent, 1)
}

func TestEmailSubjectStripsMarkup(t *testing.T) {
	msg := FormatListing(models.Listing{ID: "a", Title: "t", Query: "q", URL: "https://x/a"})
	assert.Equal(t, "🆕 Новое объявление!", emailSubject(msg.Text))
	assert.True(t, strings.HasSuffix(plainBody(msg), "\n\nhttps://x/a"))
}

func TestTelegramSenderPostsMarkdownWithButton(t *testing.T) {
	var (
		mu   sync.Mutex
		form map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"monitor_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			form = map[string]string{
				"chat_id":      r.PostForm.Get("chat_id"),
				"parse_mode":   r.PostForm.Get("parse_mode"),
				"reply_markup": r.PostForm.Get("reply_markup"),
			}
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewTelegramSenderWithEndpoint("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	err = s.Send(context.Background(), Message{Recipient: "42", Text: "*hi*", ButtonText: "open", ButtonURL: "https://x/a"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "42", form["chat_id"])
	assert.Equal(t, "Markdown", form["parse_mode"])

	var markup struct {
		InlineKeyboard [][]struct {
			Text string `json:"text"`
			URL  string `json:"url"`
		} `json:"inline_keyboard"`
	}
	require.NoError(t, json.Unmarshal([]byte(form["reply_markup"]), &markup))
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "https://x/a", markup.InlineKeyboard[0][0].URL)

	assert.Error(t, s.Send(context.Background(), Message{Recipient: "not-a-chat", Text: "x"}))
}
