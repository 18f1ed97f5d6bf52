package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	submitAttempts = 10
	forgotAttempts = 12

	selSignoutLink   = `//a[@data-uia="header-signout-link"]`
	selLoginLink     = `//a[@data-uia="header-login-link"]`
	selEmailSent     = `//*[@class="login-content"]//h2[@data-uia="email_sent_label"]`
	selReusedError   = `//div[@data-uia="field-newPassword+error"]`
	selAllDevicesBox = `//li[@data-uia="field-requireAllDevicesSignIn+wrapper"]`
)

// ClearBrowserData drops cookies and cache of the session
func (s *Session) ClearBrowserData(ctx context.Context) error {
	err := s.run(ctx, s.elementTimeout(),
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.ClearBrowserCookies().Do(ctx); err != nil {
				return err
			}
			return network.ClearBrowserCache().Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to clear browser data: %w", err)
	}
	return nil
}

func (s *Session) clearCookies(ctx context.Context) error {
	return s.run(ctx, s.elementTimeout(), network.ClearBrowserCookies())
}

func (s *Session) navigate(ctx context.Context, step, url string) error {
	return s.step(ctx, step, url, s.elementTimeout(), chromedp.Navigate(url))
}

// Login signs in. An error banner after submitting is ErrRiskControl.
func (s *Session) Login(ctx context.Context, username, password string) error {
	const step = "login"
	s.log.Debug("Logging in", zap.String("account", username))

	if err := s.clearCookies(ctx); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := s.navigate(ctx, step, s.config.Endpoints.Login); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, step, "id_userLoginId", username); err != nil {
		return err
	}
	if err := s.sleep(ctx, 1100*time.Millisecond); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, step, "id_password", password); err != nil {
		return err
	}
	if err := s.step(ctx, step, ".login-button", s.elementTimeout(),
		chromedp.Click(".login-button", chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return err
	}

	kind, text, err := s.probeBanner(ctx)
	if err != nil {
		return err
	}
	if kind == bannerError {
		return fmt.Errorf("login %s: %w: %s", username, ErrRiskControl, text)
	}

	if err := s.waitURL(ctx, step, "browse page", 3*time.Second, urlContains("browse")); err == nil {
		s.log.Debug("Logged in", zap.String("account", username))
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	// Signed in but not sent to browse: the account has no active plan
	if err := s.step(ctx, step, selSignoutLink, s.elementTimeout(),
		chromedp.WaitVisible(selSignoutLink, chromedp.BySearch)); err != nil {
		return err
	}
	s.log.Warn("Account may not be a member", zap.String("account", username))
	return nil
}

// RequestPasswordReset submits the forgot-password form for email and waits
// until the page confirms the mail was sent
func (s *Session) RequestPasswordReset(ctx context.Context, email string) error {
	const step = "request password reset"
	s.log.Info("Requesting password reset", zap.String("account", email))

	if err := s.clearCookies(ctx); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := s.navigate(ctx, step, s.config.Endpoints.ForgotPassword); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, step, "forgot_password_input", email); err != nil {
		return err
	}
	if err := s.sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := s.clickWithBannerRetry(ctx, step, ".forgot-password-action-button", forgotAttempts, chromedp.ByQuery); err != nil {
		return err
	}
	if err := s.step(ctx, step, selEmailSent, s.elementTimeout(),
		chromedp.WaitVisible(selEmailSent, chromedp.BySearch)); err != nil {
		return err
	}

	s.log.Info("Password reset mail sent", zap.String("account", email))
	return nil
}

func (s *Session) fillNewPassword(ctx context.Context, step, password string) error {
	if err := s.typeHuman(ctx, step, "id_newPassword", password); err != nil {
		return err
	}
	if err := s.sleep(ctx, 2*time.Second); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, step, "id_confirmNewPassword", password); err != nil {
		return err
	}
	return s.sleep(ctx, time.Second)
}

// submitResetForm fills and submits the open reset form. A visible
// new-password field error means the password was used before.
func (s *Session) submitResetForm(ctx context.Context, step, password string) error {
	if err := s.fillNewPassword(ctx, step, password); err != nil {
		return err
	}
	if err := s.clickWithBannerRetry(ctx, step, "#btn-save", submitAttempts, chromedp.ByQuery); err != nil {
		return err
	}

	reused, err := s.visible(ctx, selReusedError, probeTimeout, chromedp.BySearch)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if reused {
		var tip string
		_ = s.run(ctx, probeTimeout, chromedp.Text(selReusedError, &tip, chromedp.BySearch))
		s.log.Warn("Reset form rejected the password", zap.String("message", tip))
		return ErrPasswordReused
	}
	return nil
}

// CompleteReset opens a reset link and sets newPassword
func (s *Session) CompleteReset(ctx context.Context, resetURL, newPassword string) error {
	const step = "complete reset"
	s.log.Info("Completing password reset via mailed link")

	if err := s.clearCookies(ctx); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := s.navigate(ctx, step, resetURL); err != nil {
		return err
	}
	return s.submitResetForm(ctx, step, newPassword)
}

// SubmitNewPassword refills the reset form that is still open
func (s *Session) SubmitNewPassword(ctx context.Context, newPassword string) error {
	return s.submitResetForm(ctx, "submit new password", newPassword)
}

// ChangePasswordInAccount changes the password from the account settings
// without forcing other devices to sign in again
func (s *Session) ChangePasswordInAccount(ctx context.Context, current, next string) error {
	const step = "change password in account"
	s.log.Info("Changing password from account settings")

	if err := s.navigate(ctx, step, s.config.Endpoints.ChangePassword); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, step, "id_currentPassword", current); err != nil {
		return err
	}
	if err := s.sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := s.fillNewPassword(ctx, step, next); err != nil {
		return err
	}
	if err := s.step(ctx, step, selAllDevicesBox, s.elementTimeout(),
		chromedp.Click(selAllDevicesBox, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	if err := s.sleep(ctx, time.Second); err != nil {
		return err
	}
	return s.clickWithBannerRetry(ctx, step, "#btn-save", submitAttempts, chromedp.ByQuery)
}

// VerifyPasswordChanged waits for the post-change confirmation page
func (s *Session) VerifyPasswordChanged(ctx context.Context) error {
	want := s.config.Endpoints.Confirmation
	err := s.waitURL(ctx, "verify password change", want, s.elementTimeout(), func(u string) bool { return u == want })
	if err != nil {
		return err
	}
	s.log.Info("Password change confirmed")
	return nil
}

// Logout signs out and waits for the login link
func (s *Session) Logout(ctx context.Context) error {
	const step = "logout"
	if err := s.navigate(ctx, step, s.config.Endpoints.Logout); err != nil {
		return err
	}
	return s.step(ctx, step, selLoginLink, 4900*time.Millisecond,
		chromedp.WaitVisible(selLoginLink, chromedp.BySearch))
}
