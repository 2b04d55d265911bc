package version

import "runtime/debug"

// Version is stamped at build time with
// -ldflags "-X github.com/bnema/possync/internal/version.Version=v1.2.3".
var Version = "dev"

// String returns Version, falling back to the module version recorded by
// `go install` when no value was stamped.
func String() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return Version
	}
	return info.Main.Version
}
