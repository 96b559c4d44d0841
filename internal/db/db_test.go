package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	t.Run("host and port", func(t *testing.T) {
		opts, err := Options("localhost:6379", "secret")
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Nil(t, opts.TLSConfig)
	})

	t.Run("url with credentials", func(t *testing.T) {
		opts, err := Options("redis://user:pw@cache:6380", "ignored")
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, "user", opts.Username)
		assert.Equal(t, "pw", opts.Password)
	})

	t.Run("tls scheme", func(t *testing.T) {
		opts, err := Options("rediss://cache:6380", "pw")
		require.NoError(t, err)
		require.NotNil(t, opts.TLSConfig)
		assert.Equal(t, "pw", opts.Password)
	})
}

func TestWithoutRedis(t *testing.T) {
	d := NewDB(context.Background(), "", "")
	assert.Nil(t, d.Redis)
	assert.NoError(t, d.Health(context.Background()))
	assert.NoError(t, d.Close())
}
