package chromedp

import (
	"context"
	"errors"
	"strings"

	"github.com/chromedp/chromedp"
)

// Fetcher renders a page in headless Chrome and returns its HTML. Used as
// the extraction fallback for pages that only materialize under JS.
type Fetcher struct {
	UserAgent string
}

// FetchHTML navigates to pageURL and returns the rendered document.
func (f *Fetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	if strings.TrimSpace(pageURL) == "" {
		return "", errors.New("invalid url")
	}

	ua := f.UserAgent
	if ua == "" {
		ua = "newsdigest/1.0"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
