package novasite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// ErrSMTPNotConfigured is returned by the mailer when SMTP settings are
// incomplete.
var ErrSMTPNotConfigured = errors.New("SMTP not configured")

// Notifier delivers a notification for a stored submission.
type Notifier interface {
	Notify(ctx context.Context, sub Submission) error
}

// Mailer sends submission notifications over SMTP.
type Mailer struct {
	site   string
	from   string
	to     string
	client *mail.Client
}

// NewMailer builds a Mailer from cfg. Port 465 uses implicit TLS, any other
// port requires STARTTLS. It returns ErrSMTPNotConfigured when a setting is
// missing.
func NewMailer(cfg SiteConfig) (*Mailer, error) {
	if !cfg.SMTPConfigured() {
		return nil, ErrSMTPNotConfigured
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithUsername(cfg.SMTPUser),
		mail.WithPassword(cfg.SMTPPassword),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.SMTPPort == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	to := cfg.MailTo
	if to == "" {
		to = cfg.SMTPUser
	}
	return &Mailer{site: cfg.Name, from: cfg.SMTPUser, to: to, client: client}, nil
}

// Notify sends one message describing sub.
func (m *Mailer) Notify(ctx context.Context, sub Submission) error {
	msg, err := m.message(sub, time.Now())
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (m *Mailer) message(sub Submission, at time.Time) (*mail.Msg, error) {
	label := Label(sub)
	html, err := renderString(context.Background(), notificationEmail(m.site, label, sub, at))
	if err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.site, m.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.to); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	if sub.Email != "" {
		// A malformed reply address should not block the notification.
		_ = msg.ReplyTo(sub.Email)
	}
	msg.Subject(Subject(m.site, label))
	msg.SetBodyString(mail.TypeTextPlain, PlainBody(m.site, label, sub, at))
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}

// Label names the kind of submission for the mail subject and body.
func Label(sub Submission) string {
	switch sub.Type {
	case TypeSubscriber:
		switch sub.Source {
		case "footer":
			return "New Newsletter Subscriber (Footer)"
		case "podcast":
			return "Podcast Newsletter Subscriber"
		}
		return "New Newsletter Subscriber"
	case TypeContact:
		return "New Contact Message"
	case TypeCollab:
		return "New Collaboration Request"
	}
	// The relay answers unknown types with 400 before anything is mailed;
	// this only covers Notifier callers outside the relay.
	return "New Form"
}

// Subject formats the notification subject line.
func Subject(site, label string) string {
	return label + " - " + site
}

const timestampLayout = "02.01.2006 15:04:05"

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// PlainBody is the text/plain notification body.
func PlainBody(site, label string, sub Submission, at time.Time) string {
	var b strings.Builder
	b.WriteString("A new form was submitted:\n\n")
	fmt.Fprintf(&b, "Type: %s\n", label)
	fmt.Fprintf(&b, "Name: %s\n", orDash(sub.Name))
	fmt.Fprintf(&b, "Email: %s\n", orDash(sub.Email))

	switch sub.Type {
	case TypeSubscriber:
		fmt.Fprintf(&b, "\nSource: %s\n\nThis person subscribed to the newsletter.\n", orDash(sub.Source))
	case TypeContact:
		fmt.Fprintf(&b, "\nSubject: %s\n\nMessage:\n%s\n", orDash(sub.Subject), orDash(sub.Message))
	case TypeCollab:
		fmt.Fprintf(&b, "\nInquiry type: %s\n\nMessage:\n%s\n", orDash(sub.InquiryType), orDash(sub.Message))
	}

	fmt.Fprintf(&b, "\n---\n%s Website\n%s\n", site, at.Format(timestampLayout))
	return b.String()
}
