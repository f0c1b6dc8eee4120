package main_test

import (
	"os"
	"testing"
)

// Integration tests require external services and are skipped by default.
// To run them locally set RUN_INGESTIOND_INTEGRATION=1 and start postgres
// + redis + an FTP fixture via docker-compose.
func TestIntegrationSkipByDefault(t *testing.T) {
	if os.Getenv("RUN_INGESTIOND_INTEGRATION") != "1" {
		t.Skip("integration tests skipped; set RUN_INGESTIOND_INTEGRATION=1 to run")
	}
	// placeholder: add integration tests that exercise migrations, Redis,
	// FTP discovery, and the webhook HTTP endpoint end-to-end.
}
