package version

import (
	"github.com/earthboundkid/versioninfo/v2"
)

// GetVersion returns the module version, or the short commit hash with a
// dirty marker for development builds
func GetVersion() string {
	return versioninfo.Short()
}

// GetFullVersion returns version with commit info
func GetFullVersion() string {
	ver := versioninfo.Version
	if versioninfo.Revision == "" || versioninfo.Revision == "unknown" {
		return ver
	}
	full := ver + " (commit: " + shortRevision() + ")"
	if versioninfo.DirtyBuild {
		full += " dirty"
	}
	return full
}

func shortRevision() string {
	if len(versioninfo.Revision) > 7 {
		return versioninfo.Revision[:7]
	}
	return versioninfo.Revision
}
