// Package sms delivers one-time codes to phones.
package sms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"keyless-recovery/internal/config"
	"keyless-recovery/internal/util"
)

var ErrNotConfigured = errors.New("sms provider is not configured")

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// VerificationMessage renders the text sent with a fresh code.
func VerificationMessage(code string, validMinutes int) string {
	return fmt.Sprintf("Your verification code is: %s. Valid for %d minutes.", code, validMinutes)
}

// NewSender builds the sender selected by cfg.SMS.Provider.
func NewSender(cfg *config.Config, logger *zap.Logger) (Sender, error) {
	switch cfg.SMS.Provider {
	case config.SMSProviderTwilio:
		sender, err := NewTwilioSender(cfg.SMS, logger)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.SMSProviderLog:
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.SMS.Provider)
	}
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioSender struct {
	api    messageCreator
	from   string
	logger *zap.Logger
}

func NewTwilioSender(cfg config.SMSConfig, logger *zap.Logger) (*TwilioSender, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		return nil, ErrNotConfigured
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})

	return &TwilioSender{
		api:    client.Api,
		from:   cfg.TwilioFromNumber,
		logger: logger,
	}, nil
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.Error("Twilio message creation failed", util.Phone(to), util.ErrorField(err))
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	fields := []zap.Field{util.Phone(to)}
	if resp != nil && resp.Sid != nil {
		fields = append(fields, util.String("message_sid", *resp.Sid))
	}
	s.logger.Info("SMS sent", fields...)
	return nil
}

// LogSender writes messages to the log instead of a carrier. Development only.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, body string) error {
	s.logger.Warn("SMS delivery disabled, message dropped",
		util.Phone(to),
		util.String("body", redactDigits(body)),
		util.Int("length", len(body)))
	return nil
}

var digitRun = regexp.MustCompile(`\d{4,}`)

// redactDigits hides codes and other long digit runs.
func redactDigits(body string) string {
	return digitRun.ReplaceAllStringFunc(body, func(m string) string {
		return strings.Repeat("*", len(m))
	})
}
