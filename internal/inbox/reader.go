package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
)

// Watermarks is the part of the state repository the reader needs
type Watermarks interface {
	Watermark(ctx context.Context, account string) (uint32, error)
	AdvanceWatermark(ctx context.Context, account string, id uint32) (bool, error)
}

// Reader fetches the newest unprocessed message addressed to an account
type Reader struct {
	config config.InboxConfig
	marks  Watermarks
	log    *zap.Logger
	now    func() time.Time
}

// NewReader creates a mailbox reader
func NewReader(cfg config.InboxConfig, marks Watermarks, log *zap.Logger) *Reader {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.SinceDays <= 0 {
		cfg.SinceDays = 3
	}
	return &Reader{config: cfg, marks: marks, log: log.Named("inbox"), now: time.Now}
}

func (r *Reader) connect(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(r.config.Server, strconv.Itoa(r.config.Port))

	var (
		c   *client.Client
		err error
	)
	if r.config.SSL {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: r.config.Server})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, &MailAccessError{Op: "dial", Err: err}
	}
	c.Timeout = time.Minute

	if err := ctx.Err(); err != nil {
		c.Terminate()
		return nil, err
	}
	if err := c.Login(r.config.Email, r.config.Password); err != nil {
		c.Logout()
		return nil, &MailAccessError{Op: "login", Err: err}
	}
	return c, nil
}

// FetchLatest returns the newest message to accountEmail sent within the
// trailing window whose UID is above the account watermark, and advances the
// watermark to it. It returns nil when nothing qualifies. With subjectOnly
// only the envelope is fetched.
func (r *Reader) FetchLatest(ctx context.Context, accountEmail string, subjectOnly bool) (*Email, error) {
	c, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	// go-imap v1 has no context support; drop the connection on cancel
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if _, err := c.Select(r.config.Folder, true); err != nil {
		return nil, &MailAccessError{Op: "select", Err: err}
	}

	since := r.now().AddDate(0, 0, -r.config.SinceDays)
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("To", accountEmail)
	criteria.SentSince = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, &MailAccessError{Op: "search", Err: err}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	lastID, err := r.marks.Watermark(ctx, accountEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}

	// Newest first; stop at the first message we can read
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	for _, uid := range uids {
		if uid <= lastID {
			break
		}

		email, err := r.fetchOne(c, uid, subjectOnly)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Error("Failed to fetch message",
				zap.String("account", accountEmail), zap.Uint32("uid", uid), zap.Error(err))
			continue
		}
		email.Account = accountEmail

		if _, err := r.marks.AdvanceWatermark(ctx, accountEmail, uid); err != nil {
			return nil, fmt.Errorf("failed to advance watermark: %w", err)
		}

		r.log.Debug("Fetched message",
			zap.String("account", accountEmail),
			zap.Uint32("uid", uid),
			zap.String("subject", email.Subject),
			zap.String("from", email.From),
			zap.Time("date", email.Date))
		return email, nil
	}

	return nil, nil
}

func (r *Reader) fetchOne(c *client.Client, uid uint32, subjectOnly bool) (*Email, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}
	var section *imap.BodySectionName
	if !subjectOnly {
		// PEEK leaves \Seen untouched
		section = &imap.BodySectionName{Peek: true}
		items = append(items, section.FetchItem())
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var email *Email
	for msg := range messages {
		if email == nil {
			email = parseMessage(msg, section)
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if email == nil {
		return nil, fmt.Errorf("server returned no message for uid %d", uid)
	}
	return email, nil
}
