package inbox

// Classification is the kind of provider notice a message represents
type Classification string

const (
	MaliciousReset     Classification = "malicious_reset"      // Someone else changed the password
	ForcedReset        Classification = "forced_reset"         // The provider demands a reset
	ResetLinkDelivered Classification = "reset_link_delivered" // Reply to our forgot-password request
	Unrelated          Classification = "unrelated"
)

// Classifier matches message bodies against a rule table
type Classifier struct {
	rules *Rules
}

func NewClassifier(rules *Rules) *Classifier {
	return &Classifier{rules: rules}
}

// IsMaliciousReset reports a password-changed confirmation link
func (c *Classifier) IsMaliciousReset(body string) bool {
	return matchAny(c.rules.MaliciousReset, body)
}

// IsForcedResetRequest reports the provider's own reset-help link
func (c *Classifier) IsForcedResetRequest(body string) bool {
	return matchAny(c.rules.ForcedReset, body)
}

// IsResetLinkDelivery reports the account-access marker of a reset-link mail
func (c *Classifier) IsResetLinkDelivery(body string) bool {
	return matchAny(c.rules.ResetLinkDelivery, body)
}

// ExtractResetLink returns the one-time reset URL in body.
// An empty result is never returned without an error.
func (c *Classifier) ExtractResetLink(body string) (string, error) {
	for _, re := range c.rules.ResetLink {
		if link := re.FindString(body); link != "" {
			return link, nil
		}
	}
	return "", &LinkExtractionError{}
}

// Classify tags an email. Malicious changes win over forced resets, which
// win over reset-link deliveries.
func (c *Classifier) Classify(e *Email) Classification {
	if e == nil {
		return Unrelated
	}
	text := ClassifiableText(e)
	switch {
	case c.IsMaliciousReset(text):
		return MaliciousReset
	case c.IsForcedResetRequest(text):
		return ForcedReset
	case c.IsResetLinkDelivery(text):
		return ResetLinkDelivered
	default:
		return Unrelated
	}
}

// ResetLink extracts the reset URL from a message classified as a delivery
func (c *Classifier) ResetLink(e *Email) (string, error) {
	link, err := c.ExtractResetLink(ClassifiableText(e))
	if err != nil {
		return "", &LinkExtractionError{UID: e.UID}
	}
	return link, nil
}
