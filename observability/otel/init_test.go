package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" x-team = rewards ,broken,=nokey, auth=a=b,")
	require.Equal(t, map[string]string{"x-team": "rewards", "auth": "a=b"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "rewards-cli"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{Endpoint: "collector:4318"})
	require.Error(t, err)
}
