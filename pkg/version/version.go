// Package version provides the software version advertised by clients and
// servers.
package version

import (
	"fmt"
)

// Version components.
const (
	// VersionMajor represents the current major version.
	VersionMajor = 2
	// VersionMinor represents the current minor version.
	VersionMinor = 7
	// VersionPatch represents the current patch version.
	VersionPatch = 0
)

// Version provides a stringified version of the current version.
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
