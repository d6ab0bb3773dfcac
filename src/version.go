package main

// Build metadata, injected via ldflags:
//
//	go build -ldflags="-X main.Version=0.3.0 -X 'main.BuildDate=2026-08-24' -X main.CommitID=abc123"
var (
	// Version is the server release version
	Version = "dev"

	// BuildDate is the build timestamp
	BuildDate = "unknown"

	// CommitID is the short git commit hash
	CommitID = "unknown"
)

// GetVersion returns the bare version string
func GetVersion() string {
	return Version
}

// GetBuildInfo returns the build metadata for the health endpoint
func GetBuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_date": BuildDate,
		"commit_id":  CommitID,
	}
}

// GetVersionString returns the version with build details for log output
func GetVersionString() string {
	return "v" + Version + " (built: " + BuildDate + ", commit: " + CommitID + ")"
}
