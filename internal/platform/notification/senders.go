package notification

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SESAPI is the subset of the SES v2 client used by SESSender.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES.
type SESSender struct {
	client    SESAPI
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSESSender creates a new AWS SES email sender.
func NewSESSender(client SESAPI, fromEmail, fromName string, logger zerolog.Logger) *SESSender {
	return &SESSender{client: client, fromEmail: fromEmail, fromName: fromName, logger: logger}
}

func (s *SESSender) SendEmail(ctx context.Context, to, subject, body string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	s.logger.Debug().Str("to", to).Str("message_id", aws.ToString(out.MessageId)).Msg("email sent via ses")
	return nil
}

// SendGridSender sends emails via the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSendGridSender creates a new SendGrid email sender.
func NewSendGridSender(apiKey, fromEmail, fromName string, logger zerolog.Logger) *SendGridSender {
	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
		logger:    logger,
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, body)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Debug().Str("to", to).Int("status", resp.StatusCode).Msg("email sent via sendgrid")
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email (log only)")
	return nil
}

var (
	_ EmailSender = (*SESSender)(nil)
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*LogSender)(nil)
	_ EmailSender = (*MockEmailSender)(nil)
)
