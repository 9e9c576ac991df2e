package mail

import (
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tmeissner/inkwell/app/models"
	"github.com/tmeissner/inkwell/internal/pkg/env"
)

// SendMail delivers a single HTML mail via the configured SMTP relay.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = "no-reply@localhost"
		log.Warnf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Errorf("SMTP send error: %v", err)
	}
	return err
}

// PlanChangeNotifier mails users when billing reconciliation changes their
// effective plan. Sends happen in a goroutine so webhook handling never
// blocks on the relay.
type PlanChangeNotifier struct{}

func (PlanChangeNotifier) PlanChanged(user *models.User, oldPlan, newPlan string) {
	if user == nil || user.Email == "" {
		return
	}
	go func() {
		subject := "Your Inkwell plan changed"
		body := fmt.Sprintf(
			"<p>Hi %s,</p><p>your subscription plan changed from <strong>%s</strong> to <strong>%s</strong>.</p>"+
				"<p>You can review your subscription anytime in your account settings.</p>",
			user.Name, oldPlan, newPlan,
		)
		if err := SendMail(user.Email, subject, body); err != nil {
			log.Errorf("plan change mail to %s failed: %v", user.Email, err)
		}
	}()
}
