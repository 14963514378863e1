package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/trend"
)

func TestSMTPSinkSend(t *testing.T) {
	t.Parallel()

	sink, err := NewSMTPSink(SMTPConfig{
		Host:     "mail.example.com",
		Port:     2525,
		Username: "relay-user",
		Password: "relay-pass",
		From:     "digest@example.com",
	})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sink.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	err = sink.Send(context.Background(), trend.Notification{
		Recipients: []string{"a@example.com", "b@example.com"},
		Subject:    "New trending repo: acme/widgets",
		HTMLBody:   "<h1>acme/widgets</h1>",
		RepoName:   "acme/widgets",
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com:2525", gotAddr)
	assert.Equal(t, "digest@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: New trending repo: acme/widgets")
	assert.Contains(t, string(gotMsg), "Content-Type: text/html")
	assert.Contains(t, string(gotMsg), "<h1>acme/widgets</h1>")
}

func TestSMTPSinkPropagatesRelayError(t *testing.T) {
	t.Parallel()

	sink, err := NewSMTPSink(SMTPConfig{Host: "mail.example.com", From: "digest@example.com"})
	require.NoError(t, err)

	relayErr := errors.New("connection refused")
	sink.send = func(string, smtp.Auth, string, []string, []byte) error { return relayErr }

	err = sink.Send(context.Background(), trend.Notification{
		Recipients: []string{"a@example.com"},
		RepoName:   "acme/widgets",
	})
	require.ErrorIs(t, err, relayErr)
}

func TestSinksRejectEmptyRecipients(t *testing.T) {
	t.Parallel()

	smtpSink, err := NewSMTPSink(SMTPConfig{Host: "mail.example.com", From: "digest@example.com"})
	require.NoError(t, err)

	err = smtpSink.Send(context.Background(), trend.Notification{})
	require.ErrorIs(t, err, ErrNoRecipients)

	noop := NewNoopSink(zap.NewNop())
	err = noop.Send(context.Background(), trend.Notification{})
	require.ErrorIs(t, err, ErrNoRecipients)
}

func TestNoopSinkSend(t *testing.T) {
	t.Parallel()

	sink := NewNoopSink(zap.NewNop())
	err := sink.Send(context.Background(), trend.Notification{
		Recipients: []string{"a@example.com"},
		RepoName:   "acme/widgets",
	})
	require.NoError(t, err)
}

func TestNewTokenIsUniqueHex(t *testing.T) {
	t.Parallel()

	first, err := NewToken()
	require.NoError(t, err)
	second, err := NewToken()
	require.NoError(t, err)

	assert.Len(t, first, 48)
	assert.NotEqual(t, first, second)
	assert.Regexp(t, "^[0-9a-f]+$", first)
}
