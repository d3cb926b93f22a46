package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"

	"CampaignMailer/internal/models"
)

var ErrUnknownCredentials = errors.New("unknown credentials reference")

type Credential struct {
	Username string
	Password string
}

// Sender delivers rendered emails over SMTP. CredentialsRef on a message picks an
// entry of Credentials; an empty ref uses Username/Password.
type Sender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string

	Credentials map[string]Credential

	// Retries is how many extra dial attempts one Send may make.
	Retries       int
	RetryInterval time.Duration
}

func (s *Sender) credential(ref string) (Credential, error) {
	if ref == "" {
		return Credential{Username: s.Username, Password: s.Password}, nil
	}
	c, ok := s.Credentials[ref]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %q", ErrUnknownCredentials, ref)
	}
	return c, nil
}

func (s *Sender) message(msg models.OutgoingEmail) *gomail.Message {
	from := msg.From
	if from == "" {
		from = s.From
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", from, msg.FromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)
	return m
}

// deliver makes a single SMTP attempt.
func (s *Sender) deliver(msg models.OutgoingEmail, cred Credential) error {
	d := gomail.NewDialer(s.Host, s.Port, cred.Username, cred.Password)

	if err := d.DialAndSend(s.message(msg)); err != nil {
		return fmt.Errorf("smtp send error: %w", err)
	}
	return nil
}

// Send delivers msg, retrying transient SMTP failures with exponential backoff
// up to Retries extra attempts.
func (s *Sender) Send(ctx context.Context, msg models.OutgoingEmail) error {
	cred, err := s.credential(msg.CredentialsRef)
	if err != nil {
		return err
	}

	operation := func() error {
		return s.deliver(msg, cred)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if s.RetryInterval > 0 {
		b.InitialInterval = s.RetryInterval
	}

	retries := s.Retries
	if retries < 0 {
		retries = 0
	}

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}
