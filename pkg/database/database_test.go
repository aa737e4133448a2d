package database

import (
	"fuzzrig/config"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestNewRedisClientSelection(t *testing.T) {
	client, err := newRedisClient(&config.AppConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = newRedisClient(&config.AppConfig{RedisUrl: "redis://localhost:6380/2"})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "localhost:6380", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)
	client.Close()

	_, err = newRedisClient(&config.AppConfig{RedisUrl: "http://nope"})
	assert.Error(t, err)
}

func TestNewBug(t *testing.T) {
	bug := NewBug("png", "decode", "crash", "da39a3ee", "/fuzz/artifacts/decode/crash-da39a3ee", 3, "address",
		datatypes.JSONMap{"kind": "crashed", "exit_code": 77})
	assert.Equal(t, "decode", bug.Target)
	assert.Equal(t, "da39a3ee", bug.SHA1)
	assert.Equal(t, 77, bug.Outcome["exit_code"])
	assert.False(t, bug.CreatedAt.IsZero())
}
