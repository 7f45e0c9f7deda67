package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SEEN_CAPACITY", "")
	t.Setenv("SEND_INTERVAL", "")
	t.Setenv("DEFAULT_QUERIES", "")

	cfg := Load()
	if cfg.SeenCapacity != 1000 {
		t.Errorf("SeenCapacity: got %d, want 1000", cfg.SeenCapacity)
	}
	if cfg.SendInterval != 300*time.Millisecond {
		t.Errorf("SendInterval: got %v, want 300ms", cfg.SendInterval)
	}
	if len(cfg.DefaultQueries) != 5 {
		t.Errorf("DefaultQueries: got %d entries, want 5", len(cfg.DefaultQueries))
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_ADMIN_IDS", " 42, 7 ,,")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("MAX_RETRIES", "not-a-number")
	t.Setenv("SOURCE_BASE_URL", "https://example.test/")

	cfg := Load()
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != "42" || cfg.AdminIDs[1] != "7" {
		t.Errorf("AdminIDs: got %v, want [42 7]", cfg.AdminIDs)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout: got %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want fallback 3", cfg.MaxRetries)
	}
	if cfg.SourceBaseURL != "https://example.test" {
		t.Errorf("SourceBaseURL: got %q", cfg.SourceBaseURL)
	}
}

func TestLoadTelegramPoll(t *testing.T) {
	t.Setenv("TELEGRAM_POLL", "")
	if cfg := Load(); !cfg.TelegramPoll || cfg.TelegramPollTimeout != 30*time.Second {
		t.Errorf("poll defaults: got %v / %v, want true / 30s", cfg.TelegramPoll, cfg.TelegramPollTimeout)
	}

	t.Setenv("TELEGRAM_POLL", "false")
	t.Setenv("TELEGRAM_POLL_TIMEOUT", "5s")
	cfg := Load()
	if cfg.TelegramPoll {
		t.Error("TELEGRAM_POLL=false should disable polling")
	}
	if cfg.TelegramPollTimeout != 5*time.Second {
		t.Errorf("TelegramPollTimeout: got %v, want 5s", cfg.TelegramPollTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		missing bool
		wantErr bool
	}{
		{"telegram without token", Config{NotifyChannel: "telegram"}, true, true},
		{"telegram with token", Config{NotifyChannel: "telegram", TelegramBotToken: "t"}, false, false},
		{"email without host", Config{NotifyChannel: "email", SMTPSender: "a@b"}, true, true},
		{"log channel", Config{NotifyChannel: "log"}, false, false},
		{"unknown channel", Config{NotifyChannel: "pigeon"}, false, true},
	}

	for _, tt := range tests {
		err := tt.cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got := errors.Is(err, ErrMissingCredentials); got != tt.missing {
			t.Errorf("%s: missing credentials = %v, want %v", tt.name, got, tt.missing)
		}
	}
}
