package inbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const multipartMail = "From: Netflix <info@account.netflix.com>\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: Reset your password\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"short plain\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>hello</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; name=\"notes.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"this attachment is much longer than the inline plain text part\r\n" +
	"--outer--\r\n"

func TestDecodeBody(t *testing.T) {
	var email Email
	decodeBody(strings.NewReader(multipartMail), &email)

	assert.Equal(t, "Reset your password", email.Subject)
	assert.Contains(t, email.Body, "short plain")
	assert.NotContains(t, email.Body, "attachment")
	assert.Contains(t, email.HTMLBody, "<p>hello</p>")
}

func TestDecodeBodyKeepsEnvelopeSubject(t *testing.T) {
	email := Email{Subject: "From envelope"}
	decodeBody(strings.NewReader(multipartMail), &email)

	assert.Equal(t, "From envelope", email.Subject)
}

func TestDecodeBodyQuotedPrintable(t *testing.T) {
	raw := "Subject: =?UTF-8?Q?Passwort_ge=C3=A4ndert?=\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"https://www.netflix.com/password?g=1&lkid=3DURL_PASSWORD=\r\n" +
		"X\r\n"

	var email Email
	decodeBody(strings.NewReader(raw), &email)

	assert.Equal(t, "Passwort geändert", email.Subject)
	assert.Contains(t, email.Body, "lkid=URL_PASSWORDX")
}

func TestClassifiableText(t *testing.T) {
	tests := []struct {
		name     string
		email    Email
		contains []string
	}{
		{
			name:     "plain wins",
			email:    Email{Body: "plain text", HTMLBody: "<a href=\"https://x.test/a\">a</a>"},
			contains: []string{"plain text"},
		},
		{
			name:     "html anchors are bracketed",
			email:    Email{HTMLBody: `<a href="https://x.test/a">one</a><a href="https://x.test/a">dup</a><style>p{}</style><p>Body &amp; more</p>`},
			contains: []string{"[https://x.test/a]\n", "Body & more"},
		},
		{
			name:     "blank plain falls back to html",
			email:    Email{Body: "  \r\n", HTMLBody: "<b>bold</b>"},
			contains: []string{"bold"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifiableText(&tt.email)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}

	got := ClassifiableText(&Email{HTMLBody: `<a href="https://x.test/a">one</a><a href="https://x.test/a">dup</a>`})
	assert.Equal(t, 1, strings.Count(got, "[https://x.test/a]"))
	assert.Empty(t, ClassifiableText(&Email{}))
}
