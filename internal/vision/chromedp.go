package vision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"

	"candlesight/internal/config"
	"candlesight/internal/logger"
	"candlesight/internal/session"
	"candlesight/internal/types"
)

// ChromeCollector drives a headless browser against the platform chart page.
// One collector owns one browser; capture cycles share it and Release tears
// it down.
type ChromeCollector struct {
	cfg       config.PlatformConfig
	retention int

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

var _ Collector = (*ChromeCollector)(nil)
var _ session.Verifier = (*ChromeCollector)(nil)

func NewChromeCollector(cfg config.PlatformConfig, screenshotRetention int) *ChromeCollector {
	return &ChromeCollector{cfg: cfg, retention: screenshotRetention}
}

// ensureBrowser attaches to (or starts) the browser and loads the chart
// page, retrying with exponential backoff; page loads on a fresh profile are
// flaky enough that one attempt is not a fair test.
func (c *ChromeCollector) ensureBrowser(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil && c.browser.Err() == nil {
		return c.browser, nil
	}
	c.teardownLocked()

	attach := func() error {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", c.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		loadCtx, cancel := context.WithTimeout(browserCtx, time.Duration(c.cfg.AttachTimeoutSec)*time.Second)
		defer cancel()
		if err := chromedp.Run(loadCtx,
			chromedp.Navigate(c.cfg.ChartURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			browserCancel()
			allocCancel()
			return err
		}
		c.browser = browserCtx
		c.browserCancel = browserCancel
		c.allocCancel = allocCancel
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attach, policy); err != nil {
		return nil, fmt.Errorf("vision: attaching browser: %w", err)
	}
	logger.Infof("browser attached to %s", c.cfg.ChartURL)
	return c.browser, nil
}

// CaptureObservation evaluates the platform's chart payload in-page, archives
// a screenshot, and parses the payload into a raw observation.
func (c *ChromeCollector) CaptureObservation(ctx context.Context, sessionID string) (types.RawObservation, error) {
	browser, err := c.ensureBrowser(ctx)
	if err != nil {
		return types.RawObservation{}, err
	}
	taskCtx, cancel := context.WithTimeout(browser, 25*time.Second)
	defer cancel()
	stop := propagateCancel(ctx, cancel)
	defer stop()

	var rawPayload string
	var screenshot []byte
	err = chromedp.Run(taskCtx,
		chromedp.Evaluate(c.cfg.PayloadScript, &rawPayload),
		chromedp.FullScreenshot(&screenshot, 80),
	)
	if err != nil {
		return types.RawObservation{}, err
	}
	if len(screenshot) > 0 {
		c.archiveScreenshot(sessionID, screenshot)
	}
	return ParsePayload(rawPayload)
}

// Verify probes the page for a logged-in account; this is the session
// cache's slow path.
func (c *ChromeCollector) Verify(ctx context.Context, sessionID string) (session.VerifyResult, error) {
	browser, err := c.ensureBrowser(ctx)
	if err != nil {
		return session.VerifyResult{}, err
	}
	taskCtx, cancel := context.WithTimeout(browser, 20*time.Second)
	defer cancel()
	stop := propagateCancel(ctx, cancel)
	defer stop()

	var probe string
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(c.cfg.AccountProbeScript, &probe)); err != nil {
		return session.VerifyResult{}, err
	}
	if !gjson.Valid(probe) {
		return session.VerifyResult{LoggedIn: false, Details: "account probe returned no data"}, nil
	}
	parsed := gjson.Parse(probe)
	return session.VerifyResult{
		LoggedIn: parsed.Get("logged_in").Bool(),
		Details:  parsed.Get("details").String(),
	}, nil
}

// Release shuts the browser down. Idempotent; always safe mid-cycle because
// in-flight chromedp tasks observe the canceled context.
func (c *ChromeCollector) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

func (c *ChromeCollector) teardownLocked() {
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	c.browser = nil
}

func (c *ChromeCollector) archiveScreenshot(sessionID string, png []byte) {
	dir := c.cfg.ScreenshotDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warnf("screenshot dir: %v", err)
		return
	}
	name := fmt.Sprintf("%s_%d.png", sessionID, time.Now().UnixMilli())
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		logger.Warnf("screenshot write: %v", err)
		return
	}
	c.pruneScreenshots(dir, sessionID)
}

func (c *ChromeCollector) pruneScreenshots(dir, sessionID string) {
	if c.retention <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	prefix := sessionID + "_"
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			names = append(names, e.Name())
		}
	}
	if len(names) <= c.retention {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-c.retention] {
		os.Remove(filepath.Join(dir, name))
	}
}

// propagateCancel cancels a chromedp task context when the caller's context
// is done; chromedp contexts descend from the browser, not the cycle.
func propagateCancel(ctx context.Context, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
