package scraper

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"listing-monitor/utils"
)

// BrowserFetcher renders search pages in headless Chrome and returns the
// resulting document. It is used when the source serves an empty shell to
// plain HTTP clients.
type BrowserFetcher struct {
	baseURL    string
	searchPath string
	timeout    time.Duration
	settle     time.Duration
	chromeBin  string
	logger     *utils.Logger

	once        sync.Once
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	startErr    error
}

// NewBrowserFetcher creates a BrowserFetcher. chromeBin may be empty, in
// which case the usual install locations are searched.
func NewBrowserFetcher(baseURL, searchPath, chromeBin string, timeout time.Duration, logger *utils.Logger) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{
		baseURL:    baseURL,
		searchPath: searchPath,
		timeout:    timeout,
		settle:     2 * time.Second,
		chromeBin:  chromeBin,
		logger:     logger,
	}
}

func (b *BrowserFetcher) start() error {
	b.once.Do(func() {
		bin := b.chromeBin
		if bin == "" {
			bin = findChromeBinary()
		}
		b.logger.Info("[browser] Using browser binary: %q", bin)

		id := utils.RandomIdentity()
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("lang", id.AcceptLanguage),
			chromedp.UserAgent(id.UserAgent),
		)
		if bin != "" {
			opts = append(opts, chromedp.ExecPath(bin))
		}

		b.allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
		b.browserCtx, b.cancelTab = chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

		// Launch the browser now so every Fetch opens a tab in it.
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = err
			b.logger.Error("[browser] Failed to launch browser: %v", err)
		}
	})
	return b.startErr
}

// Fetch navigates to the search page and returns its outer HTML.
func (b *BrowserFetcher) Fetch(ctx context.Context, req SearchRequest, maxResults int) ([]byte, error) {
	if err := b.start(); err != nil {
		return nil, &TransportError{Kind: KindConnection, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	// Tie the tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	target := SearchURL(b.baseURL, b.searchPath, req)
	b.logger.Debug("[browser] Navigate %s (max %d)", target, maxResults)

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(target),
		chromedp.Sleep(b.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &TransportError{Kind: KindConnection, Err: ctx.Err()}
		}
		return nil, &TransportError{Kind: KindConnection, Err: err}
	}
	return []byte(html), nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() error {
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
