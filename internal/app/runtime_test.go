package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	_ "github.com/meridian-admin/meridian/internal/testing/guard"
)

func TestInTestMode(t *testing.T) {
	// The guard import forces MERIDIAN_TEST_MODE=1 before this package
	// caches the flag.
	assert.True(t, InTestMode())
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "0")
	t.Cleanup(RefreshTestMode)

	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
}
