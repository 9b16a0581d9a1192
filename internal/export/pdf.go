package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var (
	// ErrTimeout indicates that PDF generation exceeded its deadline.
	ErrTimeout = errors.New("export: pdf generation timed out")
	// ErrRenderFailed indicates that the renderer or headless browser failed.
	ErrRenderFailed = errors.New("export: pdf generation failed")

	noOpLogger = zap.NewNop()
)

// Result is a rendered artifact ready for download.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// RendererConfig wires the PDF renderer.
type RendererConfig struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// Renderer converts Markdown document bodies into PDF artifacts through
// headless Chrome.
type Renderer struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewRenderer constructs a PDF renderer.
func NewRenderer(cfg RendererConfig) *Renderer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Renderer{timeout: timeout, logger: logger}
}

// RenderPDF renders Markdown into a letter-size PDF. The call is bounded by
// the configured timeout; on expiry the browser context is abandoned.
func (r *Renderer) RenderPDF(ctx context.Context, markdown, title string) (Result, error) {
	html, err := markdownToHTML(markdown, title)
	if err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(callCtx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

	var pdfData []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			pdfData, _, printErr = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11.0).
				WithMarginTop(0.75).
				WithMarginBottom(0.75).
				WithMarginLeft(0.75).
				WithMarginRight(0.75).
				Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		}
		r.logger.Warn("chrome pdf generation failed", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	return Result{
		Data:     pdfData,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// percentEncodeForDataURL encodes for a data URL; spaces must become %20,
// not +, so url.QueryEscape does not apply.
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			result.WriteRune(r)
		case r == ' ':
			result.WriteString("%20")
		default:
			for _, b := range []byte(string(r)) {
				result.WriteString(fmt.Sprintf("%%%02X", b))
			}
		}
	}
	return result.String()
}

func sanitizeFilename(title string) string {
	var result strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('-')
		case r == '-', r == '_':
			result.WriteRune(r)
		}
	}

	name := result.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "document"
	}
	return name
}
