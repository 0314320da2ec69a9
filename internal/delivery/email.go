package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/rwandacancerrelief/notify-api/internal/model"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel sends notifications as email through SMTP.
type EmailChannel struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	return &EmailChannel{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (c *EmailChannel) Name() model.DeliveryChannel {
	return model.ChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, n *model.Notification, recipient *model.User) error {
	subject, body, err := renderEmail(n)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", recipient.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func renderEmail(n *model.Notification) (string, string, error) {
	switch n.Kind {
	case model.NotificationKindMessage:
		var p model.MessagePayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return "", "", fmt.Errorf("failed to decode payload: %w", err)
		}
		subject := fmt.Sprintf("New message from %s", p.SenderName)
		body := fmt.Sprintf("%s wrote:\n\n%s\n\nOpen Rwanda Cancer Relief to reply.", p.SenderName, p.Snippet)
		return subject, body, nil

	case model.NotificationKindPatientAssignment:
		var p model.PatientAssignmentPayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return "", "", fmt.Errorf("failed to decode payload: %w", err)
		}
		subject := "New counseling assignment"
		body := fmt.Sprintf("%s has been assigned to counselor %s.", p.PatientName, p.CounselorName)
		return subject, body, nil

	case model.NotificationKindSessionReminder:
		var p model.SessionReminderPayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			return "", "", fmt.Errorf("failed to decode payload: %w", err)
		}
		subject := "Upcoming counseling session"
		body := fmt.Sprintf("Your session with %s starts at %s.", p.CounterpartName, p.SessionStart.Format("Mon, 2 Jan 2006 15:04 MST"))
		return subject, body, nil

	default:
		return "", "", fmt.Errorf("unsupported notification kind: %s", n.Kind)
	}
}
