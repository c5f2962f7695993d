package version

// Name is the service name reported by health checks and logs.
const Name = "Itinera"

// Build metadata; BuildTime and GitCommit are overridden via -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// BuildInfo is the serializable view of the build metadata.
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Info returns the current build metadata.
func Info() BuildInfo {
	return BuildInfo{Service: Name, Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

// Full returns the complete version string.
func Full() string {
	if BuildTime == "unknown" || GitCommit == "unknown" {
		return Version
	}
	return Version + " (commit: " + GitCommit + ", built: " + BuildTime + ")"
}
