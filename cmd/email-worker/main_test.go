package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldnotes/internal/email"
	"fieldnotes/internal/notify"
	"fieldnotes/internal/types"
)

type fakeProvider struct {
	mu    sync.Mutex
	sends []types.SendInput
	err   error
}

func (f *fakeProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sends = append(f.sends, input)
	return "provider_msg_1", nil
}

func newTestHandler(provider *fakeProvider) *Handler {
	return &Handler{
		provider: provider,
		renderer: &email.Renderer{
			From:       types.EmailAddress{Address: "billing@fieldnotes.app", Name: "FieldNotes"},
			AppBaseURL: "https://app.fieldnotes.test",
		},
		metrics: notify.NopMetrics{},
		logger:  slog.Default(),
	}
}

func sqsRecord(t *testing.T, messageID string, msg types.EmailMessage) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: messageID, Body: string(body)}
}

func TestHandler_Handle_DeliversBatch(t *testing.T) {
	provider := &fakeProvider{}
	h := newTestHandler(provider)

	event := events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "1", types.EmailMessage{
			MessageID: "msg_1",
			Kind:      types.EmailWelcome,
			Recipient: "carla@example.com",
			TemplateData: map[string]string{
				"plan":            "standard",
				"credits_granted": "20",
			},
		}),
		sqsRecord(t, "2", types.EmailMessage{
			MessageID: "msg_2",
			Kind:      types.EmailPaymentFailed,
			Recipient: "omar@example.com",
		}),
	}}

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, provider.sends, 2)
	assert.Equal(t, "carla@example.com", provider.sends[0].To)
	assert.Equal(t, "omar@example.com", provider.sends[1].To)
}

func TestHandler_Handle_MalformedBodyIsAcked(t *testing.T) {
	provider := &fakeProvider{}
	h := newTestHandler(provider)

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "1", Body: "{not json"},
	}}

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures, "parse failures must not be retried")
	assert.Empty(t, provider.sends)
}

func TestHandler_Handle_UnknownKindIsAcked(t *testing.T) {
	provider := &fakeProvider{}
	h := newTestHandler(provider)

	event := events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "1", types.EmailMessage{
			Kind:      types.EmailKind("newsletter"),
			Recipient: "carla@example.com",
		}),
	}}

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
}

func TestHandler_Handle_RetryableErrorReportsFailure(t *testing.T) {
	provider := &fakeProvider{
		err: types.NewAppError(types.ErrCodeUpstreamRateLimited, "rate limited", nil),
	}
	h := newTestHandler(provider)

	event := events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "retry-me", types.EmailMessage{
			Kind:      types.EmailWelcome,
			Recipient: "carla@example.com",
		}),
	}}

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "retry-me", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestHandler_Handle_PermanentProviderErrorIsAcked(t *testing.T) {
	provider := &fakeProvider{
		err: types.NewAppError(types.ErrCodeValidationInvalidEmail, "rejected payload", nil),
	}
	h := newTestHandler(provider)

	event := events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "1", types.EmailMessage{
			Kind:      types.EmailWelcome,
			Recipient: "carla@example.com",
		}),
	}}

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures, "rejected payloads are not retried")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("plain network error")))
	assert.True(t, isRetryable(types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)))
	assert.True(t, isRetryable(types.NewAppError(types.ErrCodeUpstreamEmail, "5xx", nil)))
	assert.False(t, isRetryable(types.NewAppError(types.ErrCodeValidationInvalidJSON, "bad", nil)))
}
