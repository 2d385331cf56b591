package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() ServerConfig {
	return ServerConfig{
		Endpoint: "127.0.0.1:8080",
		SelfURL:  "http://node-1:8080/",
		ClusterMembers: []cluster.Node{
			{ID: "node-1", URLs: []string{"http://node-1:8080"}},
			{ID: "node-2", URLs: []string{"http://node-2:8080"}},
		},
		DataDir:             "data",
		FlushThresholdBytes: 1 << 20,
		Workers:             4,
		QueueCapacity:       DefaultQueueCapacity,
		TimeoutSecond:       DefaultTimeoutSecond,
		LogLevel:            "info",
	}
}

func TestParseFlushThreshold(t *testing.T) {
	size, err := ParseFlushThreshold(DefaultFlushThreshold)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, size)

	size, err = ParseFlushThreshold("512k")
	require.NoError(t, err)
	assert.Equal(t, 512<<10, size)

	for _, invalid := range []string{"", "abc", "0", "-1MiB"} {
		_, err := ParseFlushThreshold(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestValidate(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())
	assert.Contains(t, config.String(), "node-1=http://node-1:8080 (self)")

	tests := map[string]func(c *ServerConfig){
		"no endpoint":      func(c *ServerConfig) { c.Endpoint = "" },
		"no members":       func(c *ServerConfig) { c.ClusterMembers = nil },
		"no self url":      func(c *ServerConfig) { c.SelfURL = "" },
		"self not member":  func(c *ServerConfig) { c.SelfURL = "http://node-3:8080" },
		"no data dir":      func(c *ServerConfig) { c.DataDir = "" },
		"zero threshold":   func(c *ServerConfig) { c.FlushThresholdBytes = 0 },
		"zero workers":     func(c *ServerConfig) { c.Workers = 0 },
		"zero queue":       func(c *ServerConfig) { c.QueueCapacity = 0 },
		"negative timeout": func(c *ServerConfig) { c.TimeoutSecond = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, logger.DEBUG, level)

	level, err = ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, logger.WARNING, level)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestRequestID(t *testing.T) {
	id, ok := NewEntityRequest(http.MethodGet, "a/b c", nil).ID()
	assert.True(t, ok)
	assert.Equal(t, "a/b c", id)

	_, ok = NewEntityRequest(http.MethodGet, " \t", nil).ID()
	assert.False(t, ok)

	_, ok = (&Request{Method: http.MethodGet, Path: EntityPath}).ID()
	assert.False(t, ok)
}

func TestFailureKinds(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, FailureBadAddress.Status())
	assert.Equal(t, http.StatusGatewayTimeout, FailureUnreachable.Status())
	assert.Equal(t, http.StatusInternalServerError, FailureInterrupted.Status())
	assert.Equal(t, http.StatusInternalServerError, FailureStorage.Status())
	assert.Equal(t, http.StatusServiceUnavailable, FailureRejected.Status())

	wrapped := fmt.Errorf("forwarding: %w", Errorf(FailureUnreachable, "dial tcp: refused"))
	assert.Equal(t, FailureUnreachable, KindOf(wrapped))
	assert.Equal(t, FailureInternal, KindOf(errors.New("plain")))

	cause := errors.New("disk full")
	assert.ErrorIs(t, NewError(FailureStorage, cause), cause)
}
