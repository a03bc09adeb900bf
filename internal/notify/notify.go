// Package notify emails users when their uploads have been processed.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"

	"github.com/wneessen/go-mail"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/apperr"
)

// Notice describes one completed file or code scan.
type Notice struct {
	To         string
	Name       string
	FileName   string
	Collection string
	ResultURL  string
	Summary    string
}

// Sender delivers a notice.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

var bodyTemplate = template.Must(template.New("processed").Parse(`<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Your file <strong>{{.FileName}}</strong> has been processed{{if .Summary}}: {{.Summary}}{{end}}.</p>
<p>View the results at <a href="{{.ResultURL}}">{{.ResultURL}}</a>.</p>
<p>Collection: {{.Collection}}</p>`))

// Render produces the HTML body of a notice.
func Render(n Notice) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SMTPSender sends notices through an SMTP relay.
type SMTPSender struct {
	cfg config.MailConfig
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) client() (*mail.Client, error) {
	var opts []mail.Option
	if s.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(s.cfg.Port))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

func (s *SMTPSender) Send(ctx context.Context, n Notice) error {
	body, err := Render(n)
	if err != nil {
		return fmt.Errorf("render notice: %w", err)
	}
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(n.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject("Your file has been processed")
	msg.SetBodyString(mail.TypeTextHTML, body)

	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return c.DialAndSendWithContext(ctx, msg)
}

// Notifier delivers notices and swallows delivery failures after logging
// them.
type Notifier struct {
	Sender Sender
	Logger *log.Logger
}

func New(sender Sender, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[MAIL] ", log.LstdFlags)
	}
	return &Notifier{Sender: sender, Logger: logger}
}

// NewFromConfig returns a notifier that only logs when mail is disabled.
func NewFromConfig(cfg config.MailConfig, logger *log.Logger) *Notifier {
	if !cfg.Enabled {
		return New(nil, logger)
	}
	return New(NewSMTPSender(cfg), logger)
}

// Processed sends n. It never fails the caller.
func (nt *Notifier) Processed(ctx context.Context, n Notice) {
	if nt == nil {
		return
	}
	if nt.Sender == nil || n.To == "" {
		nt.Logger.Printf("mail disabled; %s processed into %s", n.FileName, n.Collection)
		return
	}
	if err := nt.Sender.Send(ctx, n); err != nil {
		nt.Logger.Printf("%v", apperr.Wrap(apperr.ErrNotification, err, "notify %s", n.To))
	}
}
