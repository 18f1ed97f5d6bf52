package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// The provider shows success and failure notices in the same element
const bannerXPath = `//div[@class="ui-message-contents"]`

type bannerKind int

const (
	bannerNone bannerKind = iota
	bannerSuccess
	bannerError
)

// classifyBanner tells a visible banner's success notice from an error
func classifyBanner(url, text string) bannerKind {
	if strings.Contains(url, "YourAccount?confirm=password") ||
		strings.Contains(text, "Your password has been changed") {
		return bannerSuccess
	}
	return bannerError
}

type bannerProbe func(ctx context.Context) (bannerKind, string, error)

// retryOnBanner runs action, then keeps re-running it while an error banner
// is shown, sleeping n seconds before the n-th retry. More than max retries
// gives up with an AutomationUnknownError.
func retryOnBanner(ctx context.Context, step string, action func(context.Context) error, probe bannerProbe, max int,
	sleep func(context.Context, time.Duration) error) error {
	if err := action(ctx); err != nil {
		return err
	}

	for num := 0; ; {
		kind, text, err := probe(ctx)
		if err != nil {
			return err
		}
		if kind != bannerError {
			return nil
		}
		if num >= max {
			return &AutomationUnknownError{Step: step, Attempts: num, Message: text}
		}
		num++
		if err := sleep(ctx, time.Duration(num)*time.Second); err != nil {
			return err
		}
		if err := action(ctx); err != nil {
			return err
		}
	}
}

// probeBanner waits briefly for the banner and classifies it. The text can
// load after the element, so an empty banner is re-read a few times.
func (s *Session) probeBanner(ctx context.Context) (bannerKind, string, error) {
	shown, err := s.visible(ctx, bannerXPath, probeTimeout, chromedp.BySearch)
	if err != nil || !shown {
		return bannerNone, "", err
	}

	var text, loc string
	for i := 1; i <= 3; i++ {
		err := s.run(ctx, probeTimeout,
			chromedp.Text(bannerXPath, &text, chromedp.BySearch),
			chromedp.Location(&loc),
		)
		if err != nil {
			return bannerNone, "", err
		}
		if strings.TrimSpace(text) != "" {
			break
		}
		if err := s.sleep(ctx, time.Duration(i)*time.Second); err != nil {
			return bannerNone, "", err
		}
	}

	kind := classifyBanner(loc, text)
	if kind == bannerError {
		s.log.Warn("Page shows an unknown error", zap.String("message", strings.TrimSpace(text)), zap.String("url", loc))
	}
	return kind, strings.TrimSpace(text), nil
}

// clickWithBannerRetry clicks sel and handles the unknown-error banner
func (s *Session) clickWithBannerRetry(ctx context.Context, step, sel string, max int, opts ...chromedp.QueryOption) error {
	click := func(ctx context.Context) error {
		return s.step(ctx, step, sel, s.elementTimeout(), chromedp.Click(sel, append(opts, chromedp.NodeVisible)...))
	}
	return retryOnBanner(ctx, step, click, s.probeBanner, max, s.sleep)
}
