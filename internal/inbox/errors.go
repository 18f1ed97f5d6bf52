package inbox

import "fmt"

// MailAccessError is an IMAP authentication or protocol failure.
// The reader never retries it; the next poll cycle does.
type MailAccessError struct {
	Op  string // dial, login, select, search
	Err error
}

func (e *MailAccessError) Error() string {
	return fmt.Sprintf("mail access failed during %s: %v", e.Op, e.Err)
}

func (e *MailAccessError) Unwrap() error { return e.Err }

// ClassificationDataError means a message matched an envelope rule but an
// expected sub-field could not be extracted
type ClassificationDataError struct {
	Field string
	UID   uint32
}

func (e *ClassificationDataError) Error() string {
	return fmt.Sprintf("message %d matched but %s could not be extracted", e.UID, e.Field)
}

// LinkExtractionError is returned when a reset-link delivery carries no
// recognizable reset URL
type LinkExtractionError struct {
	UID uint32
}

func (e *LinkExtractionError) Error() string {
	return fmt.Sprintf("reset link delivery %d contains no reset URL", e.UID)
}

func (e *LinkExtractionError) Unwrap() error {
	return &ClassificationDataError{Field: "reset_link", UID: e.UID}
}
