package stripe

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apmatch-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

func TestNewClientRejectsBadConfiguration(t *testing.T) {
	cases := map[string]config.StripeConfig{
		"missing key":      {Secret: "whsec_1", Env: "test"},
		"missing secret":   {APIKey: "sk_test_1", Env: "test"},
		"unknown env":      {APIKey: "sk_test_1", Secret: "whsec_1", Env: "staging"},
		"live key in test": {APIKey: "sk_live_1", Secret: "whsec_1", Env: "test"},
		"test key in live": {APIKey: "sk_test_1", Secret: "whsec_1", Env: "live"},
		"publishable key":  {APIKey: "pk_test_1", Secret: "whsec_1", Env: "test"},
		"negative retries": {APIKey: "sk_test_1", Secret: "whsec_1", MaxRetries: -1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			client, err := NewClient(context.Background(), cfg, nil)
			require.Nil(t, client)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfiguration), "got %v", err)
		})
	}
}

func TestNewClientBindsKeyAndMode(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &out})

	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:     "rk_live_abc",
		Secret:     " whsec_1 ",
		Env:        "LIVE",
		MaxRetries: 3,
	}, logg)
	require.NoError(t, err)
	require.Equal(t, "live", client.Environment())
	require.Equal(t, "whsec_1", client.SigningSecret())
	require.Equal(t, "rk_live_abc", client.PaymentIntents().Key)

	require.Contains(t, out.String(), "stripe.configured")
	require.False(t, strings.Contains(out.String(), "rk_live_abc"), "api key must not be logged")
}

func TestEmptyEnvDefaultsToTest(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec_1"}, nil)
	require.NoError(t, err)
	require.Equal(t, "test", client.Environment())
}

func TestNilClientAccessors(t *testing.T) {
	var client *Client
	require.Nil(t, client.PaymentIntents())
	require.Empty(t, client.Environment())
	require.Empty(t, client.SigningSecret())
}
