package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/kozaktomas/face-attendance/internal/config"
)

const smtpTimeout = 30 * time.Second

// SMTPNotifier sends notifications as plain-text email.
type SMTPNotifier struct {
	cfg config.MailConfig
}

func NewSMTPNotifier(cfg config.MailConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (s *SMTPNotifier) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(smtpTimeout),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	if s.cfg.UseSSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(s.cfg.Server, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create mail client: %v", ErrNotificationFailed, err)
	}
	return c, nil
}

func (s *SMTPNotifier) message(n Notification) (*mail.Msg, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	subject, body := Compose(n)

	m := mail.NewMsg()
	if err := m.From(s.cfg.DefaultSender); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrNotificationFailed, err)
	}
	if err := m.To(n.Contact); err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrNotificationFailed, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

// Send delivers a single notification over a fresh connection.
func (s *SMTPNotifier) Send(ctx context.Context, n Notification) error {
	m, err := s.message(n)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrNotificationFailed, n.Contact, err)
	}
	log.Printf("Sent %s notification to %s for %s", n.Status, n.Contact, n.CourseName)
	return nil
}

// SendBulk delivers notifications over one connection. A failed message does
// not stop the remaining ones.
func (s *SMTPNotifier) SendBulk(ctx context.Context, ns []Notification) []error {
	errs := make([]error, len(ns))
	if len(ns) == 0 {
		return errs
	}

	msgs := make([]*mail.Msg, len(ns))
	pending := 0
	for i, n := range ns {
		m, err := s.message(n)
		if err != nil {
			errs[i] = err
			continue
		}
		msgs[i] = m
		pending++
	}
	if pending == 0 {
		return errs
	}

	fail := func(err error) []error {
		for i := range errs {
			if errs[i] == nil {
				errs[i] = err
			}
		}
		return errs
	}

	c, err := s.client()
	if err != nil {
		return fail(err)
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fail(fmt.Errorf("%w: connect: %v", ErrNotificationFailed, err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("Warning: failed to close SMTP connection: %v", err)
		}
	}()

	sent := 0
	for i, m := range msgs {
		if m == nil {
			continue
		}
		if err := c.Send(m); err != nil {
			errs[i] = fmt.Errorf("%w: send to %s: %v", ErrNotificationFailed, ns[i].Contact, err)
			continue
		}
		sent++
	}
	log.Printf("Bulk notifications: %d sent, %d failed", sent, len(ns)-sent)
	return errs
}
