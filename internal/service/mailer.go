package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

var ErrUnknownNotification = errors.New("unknown notification kind")

// Mailer renders and sends one SMTP message per notification job.
type Mailer struct {
	Host     string
	Port     int
	Sender   string
	Password string
	BaseURL  string
}

func NewMailer() *Mailer {
	scheme := "http"
	if viper.GetBool("host.ssl.enabled") {
		scheme = "https"
	}

	return &Mailer{
		Host:     viper.GetString("mail.host"),
		Port:     viper.GetInt("mail.port"),
		Sender:   viper.GetString("mail.sender"),
		Password: viper.GetString("mail.password"),
		BaseURL:  fmt.Sprintf("%s://%s", scheme, viper.GetString("host.domain")),
	}
}

func (m *Mailer) Send(n *Notification) error {
	if n.Recipient == m.Sender {
		return errors.New("invalid recipient address")
	}

	subject, body, err := m.render(n)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.Sender)
	msg.SetHeader("To", n.Recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	d := gomail.NewDialer(m.Host, m.Port, m.Sender, m.Password)

	return d.DialAndSend(msg)
}

func (m *Mailer) render(n *Notification) (subject, body string, err error) {
	p := n.Payload

	switch n.Kind {
	case NotifyRegistrationVerify:
		link := fmt.Sprintf("%s/api/auth/verify/%s", m.BaseURL, p["token"])
		return "Verify your email address",
			fmt.Sprintf("Hi %s,<br><br>Click <a href='%s'>here</a> to verify your account. This link expires in 10 minutes.", p["username"], link),
			nil

	case NotifySecurityPin:
		return "Your security PIN",
			fmt.Sprintf("Hi %s,<br><br>Your account security PIN is <b>%s</b>. Keep it safe, it is required to delete your account.", p["username"], p["pin"]),
			nil

	case NotifyWelcome:
		return "Welcome aboard",
			fmt.Sprintf("Hi %s,<br><br>Your email is verified and your account is ready to use.", p["username"]),
			nil

	case NotifyTFACode:
		return "Your login verification code",
			fmt.Sprintf("Hi %s,<br><br>Your verification code is <b>%s</b>. It expires in 10 minutes.", p["username"], p["code"]),
			nil

	case NotifyResetLink:
		link := fmt.Sprintf("%s/api/auth/reset/%s", m.BaseURL, p["token"])
		return "Reset your password",
			fmt.Sprintf("Hi %s,<br><br>Click <a href='%s'>here</a> to reset your password. This link expires in 1 hour. If you didn't request this, ignore this mail.", p["username"], link),
			nil

	case NotifyResetDone:
		return "Your password was reset",
			fmt.Sprintf("Hi %s,<br><br>Your password has been reset. If this wasn't you, contact support immediately.", p["username"]),
			nil

	case NotifyPasswordChanged:
		return "Your password was changed",
			fmt.Sprintf("Hi %s,<br><br>Your password was just changed. All other sessions have been logged out.", p["username"]),
			nil

	case NotifyEmailChangeNotice:
		// Sent to the old address with the new one masked: enough for
		// tamper awareness, not enough to expose the new identity.
		return "Email change requested",
			fmt.Sprintf("Hi %s,<br><br>A request was made to change your account email to %s. If this wasn't you, contact support immediately.", p["username"], p["masked_email"]),
			nil

	case NotifyEmailChangeVerify:
		link := fmt.Sprintf("%s/api/auth/verify_email/%s", m.BaseURL, p["token"])
		return "Verify your new email address",
			fmt.Sprintf("Hi %s,<br><br>Click <a href='%s'>here</a> to confirm this address for your account. This link expires in 30 minutes.", p["username"], link),
			nil

	case NotifyEmailChangeDone:
		return "Your account email was changed",
			fmt.Sprintf("Hi %s,<br><br>Your account email address has been updated.", p["username"]),
			nil

	case NotifyTFAToggled:
		state := "disabled"
		if p["enabled"] == "true" {
			state = "enabled"
		}
		return "Two-factor authentication updated",
			fmt.Sprintf("Hi %s,<br><br>Two-factor authentication has been %s on your account.", p["username"], state),
			nil

	case NotifyDeletionCode:
		return "Confirm your account deletion",
			fmt.Sprintf("Hi %s,<br><br>Your account deletion code is <b>%s</b>. It expires in 2 minutes. If this wasn't you, change your password now.", p["username"], p["code"]),
			nil

	case NotifyDeletionDone:
		return "Your account was deleted",
			fmt.Sprintf("Goodbye %s,<br><br>Your account and its data have been removed.", p["username"]),
			nil
	}

	return "", "", fmt.Errorf("%w: %q", ErrUnknownNotification, n.Kind)
}

// MaskEmail redacts an address down to the first character of its local part
// and the domain extension, e.g. rehema@gmail.com -> r*****@***.com.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}

	local, domain := email[:at], email[at+1:]

	masked := local
	if len(local) > 1 {
		masked = string(local[0]) + "*****"
	}

	ext := domain
	if dot := strings.LastIndex(domain, "."); dot >= 0 {
		ext = domain[dot+1:]
	}

	return fmt.Sprintf("%s@***.%s", masked, ext)
}
