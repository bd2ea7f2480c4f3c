// Package appid resolves the application identity, preferring an on-disk
// `.fulmen/app.yaml` and falling back to the copy embedded in the binary.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/vegeta897/slash-create/internal/assets/appidentity"
)

func init() {
	// Registration is best-effort: explicit overrides (Options.ExplicitPath,
	// FULMEN_APP_IDENTITY_PATH) stay authoritative, and the embedded identity
	// only serves when no external `.fulmen/app.yaml` can be found.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the resolved identity for this process.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}
