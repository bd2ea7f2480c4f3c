package appidentityassets

import _ "embed"

// YAML mirrors the repository's `.fulmen/app.yaml` so a compiled binary can
// resolve its identity with no repo checkout nearby. Keep the two files
// identical when editing either one.
//
//go:embed app.yaml
var YAML []byte
