package version

import "runtime"

// Set at build time via -ldflags "-X github.com/MrSnakeDoc/livefeed/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// UserAgent is sent with every upstream feed request.
func UserAgent() string {
	return "livefeed/" + Version + " (+" + Commit + ")"
}
