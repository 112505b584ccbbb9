// Package version holds build information, set through -ldflags:
//
//	go build -ldflags "-X github.com/bdobrica/Parrot/common/version.Version=v1.2.0"
package version

var (
	// Version is the semantic version.
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info returns "version (commit) built at time".
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
