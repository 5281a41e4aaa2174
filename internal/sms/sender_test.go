package sms

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"keyless-recovery/internal/config"
)

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	args := m.Called(params)
	if out := args.Get(0); out != nil {
		return out.(*twilioApi.ApiV2010Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestVerificationMessage(t *testing.T) {
	assert.Equal(t, "Your verification code is: 123456. Valid for 5 minutes.", VerificationMessage("123456", 5))
}

func TestTwilioSenderSend(t *testing.T) {
	sid := "SM123"
	api := &mockCreator{}
	api.On("CreateMessage", mock.MatchedBy(func(p *twilioApi.CreateMessageParams) bool {
		return *p.To == "+34612345678" && *p.From == "+15550001111" && *p.Body == "hello"
	})).Return(&twilioApi.ApiV2010Message{Sid: &sid}, nil)

	s := &TwilioSender{api: api, from: "+15550001111", logger: zap.NewNop()}
	require.NoError(t, s.Send(context.Background(), "+34612345678", "hello"))
	api.AssertExpectations(t)
}

func TestTwilioSenderWrapsProviderError(t *testing.T) {
	api := &mockCreator{}
	api.On("CreateMessage", mock.Anything).Return(nil, errors.New("invalid 'To' number"))

	s := &TwilioSender{api: api, from: "+15550001111", logger: zap.NewNop()}
	err := s.Send(context.Background(), "+34612345678", "hello")
	assert.ErrorContains(t, err, "invalid 'To' number")
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(&config.Config{SMS: config.SMSConfig{Provider: config.SMSProviderLog}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)
	assert.NoError(t, s.Send(context.Background(), "+34612345678", "hi"))

	_, err = NewSender(&config.Config{SMS: config.SMSConfig{Provider: config.SMSProviderTwilio}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewSender(&config.Config{SMS: config.SMSConfig{Provider: "pigeon"}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLogSenderRedactsCode(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewLogSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), "+34612345678", VerificationMessage("482913", 5)))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Your verification code is: ******. Valid for 5 minutes.", fields["body"])
	for _, v := range fields {
		assert.NotContains(t, fmt.Sprint(v), "482913")
		assert.NotContains(t, fmt.Sprint(v), "612345678")
	}
}
