// internal/notify/notify.go
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"tax-concierge/internal/common/config"
	stderrors "tax-concierge/internal/common/errors"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/models"
)

// Service interfaces kept small for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier alerts a matched specialist that a query has been escalated to
// them. Delivery is best-effort: the user's response never waits on it.
type Notifier struct {
	cfg       config.NotificationConfig
	sesClient SESService
	snsClient SNSService
	logger    logger.Logger
}

func New(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Notifier{
		cfg:       cfg,
		sesClient: ses.NewFromConfig(awsCfg),
		snsClient: sns.NewFromConfig(awsCfg),
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
	}, nil
}

// NewWithClients wires explicit service clients. Used in tests.
func NewWithClients(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:       cfg,
		sesClient: sesClient,
		snsClient: snsClient,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// NotifyExpert sends the escalation alert over the enabled channels. SMS is
// reserved for urgent escalations when so configured.
func (n *Notifier) NotifyExpert(ctx context.Context, expert models.ExpertProfile, queryText string, urgent bool) {
	subject := "New escalated client question"
	if urgent {
		subject = "URGENT: escalated client question"
	}
	body := fmt.Sprintf("Hi %s,\n\nA client question was routed to you:\n\n%q\n\nPlease pick it up in the advisor dashboard.", expert.Name, queryText)

	if n.cfg.Email.Enabled && expert.Email != "" {
		if err := n.sendEmail(ctx, expert.Email, subject, body); err != nil {
			n.logger.Error("expert email failed", map[string]interface{}{
				"expertId": expert.ID,
				"error":    err.Error(),
			})
		}
	}

	if n.cfg.SMS.Enabled && expert.Phone != "" && (urgent || !n.cfg.SMS.UrgentOnly) {
		if err := n.sendSMS(ctx, expert.Phone, subject); err != nil {
			n.logger.Error("expert SMS failed", map[string]interface{}{
				"expertId": expert.ID,
				"error":    err.Error(),
			})
		}
	}
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	if err != nil {
		return stderrors.NewNotificationSendFailedError("email", err)
	}
	return nil
}

func (n *Notifier) sendSMS(ctx context.Context, to, message string) error {
	_, err := n.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	if err != nil {
		return stderrors.NewNotificationSendFailedError("sms", err)
	}
	return nil
}
