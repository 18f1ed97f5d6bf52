package browser

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/chromedp/chromedp"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePassword returns n characters drawn uniformly from [A-Za-z0-9]
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid password length %d", n)
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		b[i] = passwordAlphabet[idx.Int64()]
	}
	return string(b), nil
}

// randomDelay picks a keystroke pause in [min, max]
func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(mrand.Int63n(int64(max-min)+1))
}

func (s *Session) typingDelays() (time.Duration, time.Duration) {
	min, max := s.config.TypingMinDelay, s.config.TypingMaxDelay
	if min <= 0 && max <= 0 {
		return 110 * time.Millisecond, 240 * time.Millisecond
	}
	return min, max
}

// typeHuman clears the field with the given id and types value one key at a time
func (s *Session) typeHuman(ctx context.Context, step, id, value string) error {
	sel := "#" + id
	err := s.step(ctx, step, sel, s.elementTimeout(),
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
	)
	if err != nil {
		return err
	}

	min, max := s.typingDelays()
	for _, r := range value {
		if err := s.step(ctx, step, sel, s.elementTimeout(), chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		if err := s.sleep(ctx, randomDelay(min, max)); err != nil {
			return err
		}
	}
	return nil
}
