package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	selProfileLink   = `//a[@class="profile-link"]`
	selProfileSave   = `//button[@data-uia="profile-save-button"]`
	selProfileDone   = `//span[@data-uia="profile-button"]`
	selProfileHub    = `//div[@class="profile-hub"]`
	selPINInput      = `//input[@data-uia="input-account-content-restrictions"]`
	selPINSubmit     = `//button[@data-uia="btn-account-pin-submit"]`
	selLockCheckbox  = `//label[@for="bxid_lock-profile_true"]`
	profileNamesEval = `Array.from(document.querySelectorAll('a.profile-link')).map(function(el) {
		return (el.innerText || el.textContent || '').trim();
	})`
)

func profileItem(index int) string {
	return fmt.Sprintf(`//li[@id="profile_%d"]`, index-1)
}

func profileLockIcon(index int) string {
	return fmt.Sprintf(`(//li[contains(@class, "single-profile")])[%d]//*[contains(@class, "svg-icon-profile-lock")]`, index)
}

func nthProfileLink(index int) string {
	return fmt.Sprintf(`(%s)[%d]`, selProfileLink, index)
}

// ProfileNames opens the profile manager and returns the displayed names in
// order
func (s *Session) ProfileNames(ctx context.Context) ([]string, error) {
	const step = "list profiles"
	if err := s.navigate(ctx, step, s.config.Endpoints.ManageProfiles); err != nil {
		return nil, err
	}
	if err := s.waitURL(ctx, step, "profile manager", 3*time.Second, urlContains("ManageProfiles")); err != nil {
		return nil, err
	}
	if err := s.step(ctx, step, selProfileLink, s.elementTimeout(),
		chromedp.WaitVisible(selProfileLink, chromedp.BySearch)); err != nil {
		return nil, err
	}

	var names []string
	if err := s.run(ctx, s.elementTimeout(), chromedp.Evaluate(profileNamesEval, &names)); err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return names, nil
}

// RenameProfile edits the index-th profile (1-based) in the open profile
// manager
func (s *Session) RenameProfile(ctx context.Context, index int, name string) error {
	step := fmt.Sprintf("rename profile %d", index)
	link := nthProfileLink(index)

	if err := s.step(ctx, step, link, s.elementTimeout(),
		chromedp.Click(link, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	if err := s.step(ctx, step, selProfileSave, 4200*time.Millisecond,
		chromedp.WaitVisible(selProfileSave, chromedp.BySearch)); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, step, "profile-name-entry", name); err != nil {
		return err
	}
	if err := s.step(ctx, step, selProfileSave, s.elementTimeout(),
		chromedp.Click(selProfileSave, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	return s.step(ctx, step, selProfileLink, 5*time.Second,
		chromedp.WaitVisible(selProfileLink, chromedp.BySearch))
}

// FinishProfileEdit leaves the profile manager
func (s *Session) FinishProfileEdit(ctx context.Context) error {
	const step = "finish profile edit"
	if err := s.step(ctx, step, selProfileDone, s.elementTimeout(),
		chromedp.Click(selProfileDone, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	return s.waitURL(ctx, step, "browse page", 3*time.Second, urlContains("browse"))
}

func (s *Session) openAccountPage(ctx context.Context, step string) error {
	loc, err := s.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if urlContains("YourAccount")(loc) {
		return nil
	}
	if err := s.navigate(ctx, step, s.config.Endpoints.Account); err != nil {
		return err
	}
	return s.waitURL(ctx, step, "account page", 4900*time.Millisecond, urlContains("YourAccount"))
}

// ProfileLocked reports whether the index-th profile (1-based) on the account
// page carries a PIN lock, and its name when it does
func (s *Session) ProfileLocked(ctx context.Context, index int) (string, bool, error) {
	step := fmt.Sprintf("check profile %d lock", index)
	if err := s.openAccountPage(ctx, step); err != nil {
		return "", false, err
	}
	if err := s.step(ctx, step, selProfileHub, s.elementTimeout(),
		chromedp.WaitVisible(selProfileHub, chromedp.BySearch),
		chromedp.ScrollIntoView(selProfileHub, chromedp.BySearch)); err != nil {
		return "", false, err
	}

	locked, err := s.visible(ctx, profileLockIcon(index), time.Second, chromedp.BySearch)
	if err != nil || !locked {
		return "", false, err
	}

	item := profileItem(index)
	expand := item + `//button[@class="profile-action-icons"]`
	title := item + `//div[@class="profile-summary"]/h3`

	var name string
	if err := s.step(ctx, step, expand, s.elementTimeout(),
		chromedp.Click(expand, chromedp.BySearch, chromedp.NodeVisible),
		chromedp.Text(title, &name, chromedp.BySearch)); err != nil {
		return "", true, err
	}
	return name, true, nil
}

// UnlockProfile removes the PIN lock of the index-th profile (1-based). The
// profile's action list must be expanded by ProfileLocked first.
func (s *Session) UnlockProfile(ctx context.Context, index int, pin string) error {
	step := fmt.Sprintf("unlock profile %d", index)
	change := profileItem(index) + `//a[@data-uia="action-profile-lock"]//div[@class="profile-change"]`

	if err := s.step(ctx, step, change, s.elementTimeout(),
		chromedp.Click(change, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	if err := s.step(ctx, step, selPINInput, 9400*time.Millisecond,
		chromedp.WaitVisible(selPINInput, chromedp.BySearch),
		chromedp.SetValue(selPINInput, "", chromedp.BySearch),
		chromedp.SendKeys(selPINInput, pin, chromedp.BySearch)); err != nil {
		return err
	}
	if err := s.sleep(ctx, 940*time.Millisecond); err != nil {
		return err
	}
	if err := s.step(ctx, step, selPINSubmit, s.elementTimeout(),
		chromedp.Click(selPINSubmit, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	if err := s.step(ctx, step, selLockCheckbox, s.elementTimeout(),
		chromedp.Click(selLockCheckbox, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	if err := s.step(ctx, step, selPINSubmit, 3*time.Second,
		chromedp.Click(selPINSubmit, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return err
	}
	if err := s.waitURL(ctx, step, "account page", 4*time.Second, urlContains("YourAccount")); err != nil {
		return err
	}

	s.log.Debug("Profile unlocked", zap.Int("profile", index))
	return nil
}
