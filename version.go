package espalier

import _ "embed"

// Version is the release of the espalier module, read from the VERSION file.
//
//go:embed VERSION
var Version string
