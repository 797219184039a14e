package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(testContext(t), "", "chat-sync", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(testContext(t)))
}
