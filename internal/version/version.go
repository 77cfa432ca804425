package version

const (
	// Name of the service
	Name = "Threatwatch"
)

var (
	// Version is the semantic version
	Version = "0.4.0"
	// BuildTime is set during build via ldflags
	BuildTime = "unknown"
	// GitCommit is set during build via ldflags
	GitCommit = "unknown"
)

// Full returns the version string, including commit and build time when both were injected.
func Full() string {
	if BuildTime == "unknown" || GitCommit == "unknown" {
		return Version
	}
	return Version + " (commit: " + GitCommit + ", built: " + BuildTime + ")"
}

// UserAgent is sent on outbound webhook deliveries.
func UserAgent() string {
	return Name + "-Webhook/" + Version
}
