package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetVersionString(t *testing.T) {
	require.Equal(t, "pull-replication, version unknown", GetVersionString())
}
