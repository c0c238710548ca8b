package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if AGENTSYNC_TEST_SKIP_NETWORK is set.
// Use this for tests that bind loopback listeners, which may not be
// available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("AGENTSYNC_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: AGENTSYNC_TEST_SKIP_NETWORK is set")
	}
}
