package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/linkup/internal/types"
)

// SMTPMailer sends multipart e-mails over SMTP. Bodies are authored as
// HTML; the plain-text alternative part is derived from the HTML so text
// clients see readable content.
type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewSMTP creates an SMTPMailer.
func NewSMTP(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, user: user, pass: pass, from: from}
}

const boundary = "linkup-alt-boundary"

// Send delivers the e-mail. Transport failures are wrapped as transient so
// workflow steps retry them.
func (m *SMTPMailer) Send(ctx context.Context, email *types.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(m.from, email)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.user, m.pass, m.host)
	if err := smtp.SendMail(addr, auth, m.from, []string{email.To}, msg); err != nil {
		return types.Transient(fmt.Errorf("smtp send to %s: %w", email.To, err))
	}
	return nil
}

// buildMessage assembles a multipart/alternative MIME message with a
// markdown-ish text part converted from the HTML body.
func buildMessage(from string, email *types.Email) ([]byte, error) {
	text, err := htmltomarkdown.ConvertString(email.Body)
	if err != nil {
		return nil, fmt.Errorf("convert body to text: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", email.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", email.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(email.Body)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String()), nil
}
