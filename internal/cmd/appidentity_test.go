package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/vegeta897/slash-create/internal/appid"
)

func TestAppIdentityLoading(t *testing.T) {
	t.Run("load app identity from .fulmen/app.yaml", func(t *testing.T) {
		// Load app identity the same way the application does
		identity, err := appid.Get(context.Background())
		if err != nil {
			t.Fatalf("Failed to load app identity: %v", err)
		}
		if identity == nil {
			t.Fatal("App identity is nil")
		}

		t.Logf("Loaded identity: %+v", identity)

		if identity.Vendor != "vegeta897" {
			t.Errorf("Expected vendor vegeta897, got '%s'", identity.Vendor)
		}
		if identity.BinaryName != "slash-create" {
			t.Errorf("Expected binary_name slash-create, got '%s'", identity.BinaryName)
		}
		if identity.ConfigName != "slash-create" {
			t.Errorf("Expected config_name slash-create, got '%s'", identity.ConfigName)
		}

		// CDRL-safe invariants: these should remain true after refit.
		if identity.EnvPrefix == "" {
			t.Errorf("Expected env_prefix to be non-empty")
		}
		if identity.EnvPrefix != "" && !strings.HasSuffix(identity.EnvPrefix, "_") {
			t.Errorf("Expected env_prefix to end with underscore, got '%s'", identity.EnvPrefix)
		}
	})
}
