package app

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/meridian-erp/meridian-erp/internal/testing/guard"
)

func TestInTestModeFollowsEnvironment(t *testing.T) {
	// The guard import sets MERIDIAN_TEST_MODE before init side effects run.
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv("MERIDIAN_TEST_MODE", "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	require.NoError(t, os.Setenv("MERIDIAN_TEST_MODE", "1"))
	RefreshTestMode()
	require.True(t, InTestMode())
}
