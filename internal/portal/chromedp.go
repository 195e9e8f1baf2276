package portal

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"
)

// ChromeDriver implements Driver over a headless Chrome instance via the
// DevTools protocol.
type ChromeDriver struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	closeOnce     sync.Once
}

// ChromeOptions configures the browser process.
type ChromeOptions struct {
	Headless  bool
	UserAgent string
}

// NewChromeDriver launches a browser and returns a driver bound to it.
func NewChromeDriver(parent context.Context, opts ChromeOptions) (*ChromeDriver, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser process eagerly so launch failures surface here
	// rather than on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}

	return &ChromeDriver{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// NewChromeFactory returns a DriverFactory launching one browser per call.
func NewChromeFactory(opts ChromeOptions) DriverFactory {
	return func(ctx context.Context) (Driver, error) {
		return NewChromeDriver(ctx, opts)
	}
}

// run executes actions against the browser context, honoring the caller's
// deadline when one is set.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := d.browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *ChromeDriver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *ChromeDriver) Fill(ctx context.Context, selector, value string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (d *ChromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := d.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery))
	return out, err
}

func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Close releases the browser process. Safe to call multiple times.
func (d *ChromeDriver) Close() error {
	d.closeOnce.Do(func() {
		d.cancelBrowser()
		d.cancelAlloc()
	})
	return nil
}
