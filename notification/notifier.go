package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"
)

// Recipients resolves the notification addresses for an organization.
type Recipients interface {
	RecipientsFor(ctx context.Context, orgID string) ([]string, error)
}

// Recorder logs each sent notification for audit.
type Recorder interface {
	RecordNotification(ctx context.Context, tagID, kind string, triggeredAt time.Time, recipient, subject string) error
}

type Notifier struct {
	recipients   Recipients
	recorder     Recorder
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
}

func NewNotifier(recipients Recipients, recorder Recorder, smtpHost string, smtpPort int, smtpUser, smtpPassword string) *Notifier {
	return &Notifier{
		recipients:   recipients,
		recorder:     recorder,
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
	}
}

func (n *Notifier) HandleBatch(ctx context.Context, events []AlarmEvent) {
	for _, evt := range events {
		if err := n.handleEvent(ctx, evt); err != nil {
			slog.Error("handle event failed",
				"tag_id", evt.TagID,
				"kind", evt.Kind,
				"error", err,
			)
		}
	}
}

func (n *Notifier) handleEvent(ctx context.Context, evt AlarmEvent) error {
	emails, err := n.recipients.RecipientsFor(ctx, evt.OrgID)
	if err != nil {
		return fmt.Errorf("get recipients: %w", err)
	}
	if len(emails) == 0 {
		slog.Debug("no recipients for org", "org_id", evt.OrgID)
		return nil
	}

	subject := fmt.Sprintf("[trakr] %s alarm %s for tag %s",
		evt.Severity, evt.Kind, evt.TagID)

	body := fmt.Sprintf(
		"Tag: %s\nAlarm: %s\nSeverity: %s\nLocation: %.6f, %.6f\nTime: %s",
		evt.TagID,
		evt.Kind,
		evt.Severity,
		evt.Lat, evt.Lon,
		evt.TriggeredAt.Format("2006-01-02 15:04:05 UTC"),
	)
	for k, v := range evt.Details {
		body += fmt.Sprintf("\n%s: %s", k, v)
	}

	// Fresh mail service per event: nikoksr/notify accumulates receivers
	// across AddReceivers calls, so reusing would cause duplicate sends.
	mailSvc := mail.New(n.smtpUser, fmt.Sprintf("%s:%d", n.smtpHost, n.smtpPort))
	mailSvc.AuthenticateSMTP("", n.smtpUser, n.smtpPassword, n.smtpHost)
	mailSvc.AddReceivers(emails...)

	notifier := notify.New()
	notifier.UseServices(mailSvc)

	if err := notifier.Send(ctx, subject, body); err != nil {
		slog.Error("send email failed", "error", err, "recipients", emails)
		return fmt.Errorf("send email: %w", err)
	}

	for _, email := range emails {
		if err := n.recorder.RecordNotification(ctx, evt.TagID, evt.Kind, evt.TriggeredAt, email, subject); err != nil {
			slog.Error("record notification failed", "recipient", email, "error", err)
		}
	}

	slog.Info("notification sent",
		"tag_id", evt.TagID,
		"kind", evt.Kind,
		"severity", evt.Severity,
		"recipients", len(emails),
	)

	return nil
}
