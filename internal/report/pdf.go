package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"gmbatch/internal/config"
)

// PDF prints the HTML report to report_<id>.pdf with headless Chrome. The
// intermediate HTML file is kept next to it so relative image paths resolve.
type PDF struct {
	Timeout time.Duration
	log     zerolog.Logger
}

func newPDF(cfg config.ReportConfig, log zerolog.Logger) *PDF {
	timeout := time.Duration(cfg.ChromeTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &PDF{Timeout: timeout, log: log}
}

// Render implements Renderer.
func (p *PDF) Render(ctx context.Context, in Input) (string, error) {
	htmlPath, err := (&HTML{log: p.log}).Render(ctx, in)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var buf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+filepath.ToSlash(abs)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("print pdf: %w", err)
	}
	pdfPath := filepath.Join(in.Dir, "report_"+in.Event.ID+".pdf")
	if err := os.WriteFile(pdfPath, buf, 0o644); err != nil {
		return "", err
	}
	return pdfPath, nil
}
