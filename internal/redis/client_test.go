package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAttemptsKey(t *testing.T) {
	assert.Equal(t, "ratelimit:login:ip:10.0.0.1", LoginAttemptsKey("ip:10.0.0.1"))
	assert.Equal(t, "ratelimit:login:user:ops", LoginAttemptsKey("user:ops"))
}

func TestNewClient(t *testing.T) {
	t.Run("rejects malformed url", func(t *testing.T) {
		_, err := NewClient("not a url")
		assert.Error(t, err)
	})

	t.Run("connects to live server", func(t *testing.T) {
		url := os.Getenv("TEST_REDIS_URL")
		if url == "" {
			t.Skip("TEST_REDIS_URL not set")
		}

		client, err := NewClient(url)
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Ping(context.Background()).Err())
	})
}
