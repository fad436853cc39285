package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/microcosm-cc/bluemonday"
)

// BrowserTool renders pages that need JavaScript in a shared headless
// Chrome. Every invocation gets its own tab so steps can run in parallel.
type BrowserTool struct {
	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc

	headless bool
	timeout  time.Duration
	maxChars int
	policy   *bluemonday.Policy
	actions  *actionSet
}

func NewBrowserTool(headless bool) *BrowserTool {
	b := &BrowserTool{
		headless: headless,
		timeout:  60 * time.Second,
		maxChars: 50000,
		policy:   bluemonday.StrictPolicy(),
	}
	b.actions = newActionSet(b.Name())
	b.actions.add(Action{
		Name:        "content",
		Aliases:     []string{"html"},
		Description: "Render a page and return its HTML",
		Parameters: schema([]string{"url"}, map[string]any{
			"url":      prop("string", "The URL to render"),
			"selector": prop("string", "Optional CSS selector to wait for before reading"),
		}),
	}, b.content)
	b.actions.add(Action{
		Name:        "text",
		Aliases:     []string{"render"},
		Description: "Render a page and return its visible text",
		Parameters: schema([]string{"url"}, map[string]any{
			"url":      prop("string", "The URL to render"),
			"selector": prop("string", "Optional CSS selector to wait for before reading"),
		}),
	}, b.text)
	return b
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Render JavaScript-heavy pages in a headless browser and read their content."
}

func (b *BrowserTool) Actions() []Action { return b.actions.actions }

func (b *BrowserTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return b.actions.invoke(ctx, action, params)
}

func (b *BrowserTool) initBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	if err := chromedp.Run(b.browserCtx); err != nil {
		b.cleanup()
		return err
	}
	return nil
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

// Close shuts the shared browser down.
func (b *BrowserTool) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}

// render opens a tab, navigates and returns the document HTML.
func (b *BrowserTool) render(ctx context.Context, p Params) (string, string, error) {
	target, err := p.Required("url")
	if err != nil {
		return "", "", err
	}
	if err := b.initBrowser(); err != nil {
		return "", "", &Error{Class: ClassOther, Err: err}
	}

	b.mu.Lock()
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	b.mu.Unlock()
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	actionCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()

	tasks := chromedp.Tasks{chromedp.Navigate(target)}
	if sel := p.String("selector", ""); sel != "" {
		tasks = append(tasks, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	var html string
	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))

	if err := chromedp.Run(actionCtx, tasks); err != nil {
		if ctx.Err() != nil || actionCtx.Err() != nil {
			return "", "", NetworkError(err)
		}
		return "", "", &Error{Class: ClassOther, Err: err}
	}
	return target, html, nil
}

func (b *BrowserTool) content(ctx context.Context, p Params) (any, error) {
	target, html, err := b.render(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(html) > b.maxChars {
		html = html[:b.maxChars] + "\n... (truncated)"
	}
	return map[string]any{"url": target, "html": html}, nil
}

func (b *BrowserTool) text(ctx context.Context, p Params) (any, error) {
	target, html, err := b.render(ctx, p)
	if err != nil {
		return nil, err
	}
	text := strings.Join(strings.Fields(b.policy.Sanitize(html)), " ")
	if len(text) > b.maxChars {
		text = text[:b.maxChars] + " ... (truncated)"
	}
	return map[string]any{"url": target, "text": text}, nil
}
