package services

import (
	"context"
	"fmt"
	"log"
	"net/smtp"

	"github.com/spf13/viper"

	"github.com/certhub/backend/internal/models"
)

// Notification kinds dispatched after a status transition commits.
const (
	NotifySubmitted = "submitted"
	NotifyApproved  = "approved"
	NotifyRejected  = "rejected"
	NotifyUploaded  = "uploaded"
	NotifyResubmit  = "resubmit"
	NotifySent      = "sent"
	NotifyReceived  = "received"
	NotifyCompleted = "completed"
)

// Notifier delivers a status notification to the applicant. It is
// invoked only after the transition transaction has committed; errors
// are logged by callers and never roll the transition back.
type Notifier interface {
	Send(ctx context.Context, kind string, document *models.Document, extra map[string]string) error
}

func notificationKindForStatus(status string) (string, bool) {
	switch status {
	case models.StatusPending:
		return NotifySubmitted, true
	case models.StatusApproved:
		return NotifyApproved, true
	case models.StatusRejected:
		return NotifyRejected, true
	case models.StatusUploaded:
		return NotifyUploaded, true
	case models.StatusResubmit:
		return NotifyResubmit, true
	case models.StatusSent:
		return NotifySent, true
	case models.StatusReceived:
		return NotifyReceived, true
	case models.StatusCompleted:
		return NotifyCompleted, true
	}
	return "", false
}

// SMTPNotifier sends plain-text status emails. Credentials come from
// configuration, never from code.
type SMTPNotifier struct {
	host     string
	port     string
	from     string
	password string
}

// NewSMTPNotifier builds a notifier from smtp.* viper keys. It returns
// a LogNotifier when no credentials are configured so callers never
// need a nil check.
func NewSMTPNotifier() Notifier {
	viper.SetDefault("smtp.host", "smtp.gmail.com")
	viper.SetDefault("smtp.port", "587")

	from := viper.GetString("smtp.from")
	password := viper.GetString("smtp.password")
	if from == "" || password == "" {
		log.Println("[NOTIFY] SMTP not configured, falling back to log-only notifications")
		return &LogNotifier{}
	}

	return &SMTPNotifier{
		host:     viper.GetString("smtp.host"),
		port:     viper.GetString("smtp.port"),
		from:     from,
		password: password,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, kind string, document *models.Document, extra map[string]string) error {
	subject, body := notificationContent(kind, document, extra)

	msg := []byte("From: " + n.from + "\r\n" +
		"To: " + document.Email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body + "\r\n")

	auth := smtp.PlainAuth("", n.from, n.password, n.host)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(n.host+":"+n.port, auth, n.from, []string{document.Email}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Printf("[NOTIFY] %s email sent for application %s", kind, document.ApplicationID)
	return nil
}

func notificationContent(kind string, document *models.Document, extra map[string]string) (subject, body string) {
	switch kind {
	case NotifyApproved:
		subject = "Application Status: Approved"
		body = fmt.Sprintf("Dear %s,\n\nYour application (ID: %s) has been approved and is moving to processing.",
			document.Name, document.ApplicationID)
	case NotifyRejected:
		subject = "Application Status: Rejected"
		body = fmt.Sprintf("Dear %s,\n\nYour application (ID: %s) has been rejected.\nReason: %s\n\nYou may correct the listed documents and resubmit.",
			document.Name, document.ApplicationID, extra["reason"])
	case NotifyUploaded:
		subject = "Application Documents Uploaded"
		body = fmt.Sprintf("Dear %s,\n\nThe certified documents for your application (ID: %s) have been uploaded.",
			document.Name, document.ApplicationID)
	case NotifyResubmit, NotifySubmitted:
		subject = "Application Status: Pending"
		body = fmt.Sprintf("Dear %s,\n\nYour application (ID: %s) is pending review. We will notify you once the review is complete.",
			document.Name, document.ApplicationID)
	case NotifySent:
		subject = "Application Status: Sent"
		body = fmt.Sprintf("Dear %s,\n\nYour certified documents for application %s have been dispatched.",
			document.Name, document.ApplicationID)
	case NotifyReceived:
		subject = "Application Status: Received"
		body = fmt.Sprintf("Dear %s,\n\nYour documents for application %s were received at the certification office.",
			document.Name, document.ApplicationID)
	case NotifyCompleted:
		subject = "Application Status: Completed"
		body = fmt.Sprintf("Dear %s,\n\nYour application (ID: %s) has been completed. Your certified documents are ready.",
			document.Name, document.ApplicationID)
	default:
		subject = "Application Status Updated"
		body = fmt.Sprintf("Dear %s,\n\nThe status of your application (ID: %s) is now %s.",
			document.Name, document.ApplicationID, document.Status)
	}
	return subject, body
}

// LogNotifier records notifications in the server log only. Used when
// SMTP is not configured and in tests.
type LogNotifier struct{}

func (n *LogNotifier) Send(_ context.Context, kind string, document *models.Document, _ map[string]string) error {
	log.Printf("[NOTIFY] %s notification for application %s (%s)", kind, document.ApplicationID, document.Email)
	return nil
}
