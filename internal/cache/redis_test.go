package cache

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_NilClient(t *testing.T) {
	c, err := NewRedis[CacheTestDummy](nil)

	assert.ErrorIs(t, err, ErrNilClient)
	assert.Nil(t, c)
}

func TestRedis_StorageKeyUsesPrefix(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer client.Close()

	c, err := NewRedis[CacheTestDummy](client, WithKeyPrefix("apiease:"))
	require.NoError(t, err)

	assert.Equal(t, "apiease:session://github", c.storageKey("session://github"))
}

func TestRedis_CloseLeavesSharedClientOpen(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer client.Close()

	c, err := NewRedis[CacheTestDummy](client)
	require.NoError(t, err)

	require.NoError(t, c.Close())

	// the shared client must still be usable: a ping fails to connect, but
	// not because the client was closed
	err = client.Ping(context.Background()).Err()
	assert.NotErrorIs(t, err, goredis.ErrClosed)
}

func TestRedis_CloseOwnedClient(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})

	c, err := NewRedis[CacheTestDummy](client, WithOwnedClient())
	require.NoError(t, err)

	require.NoError(t, c.Close())

	err = client.Ping(context.Background()).Err()
	assert.ErrorIs(t, err, goredis.ErrClosed)
}
