// Package version reports the build identity of the pagerflow binary
package version

// BuildInfo holds version information about the build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information, set at build time with
// -ldflags "-X 'pagerflow/internal/core/version.version=v0.1.0' -X 'pagerflow/internal/core/version.commit=abcd'"
func Info() BuildInfo {
	return BuildInfo{
		Service: "pagerflow",
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// UserAgent is the User-Agent outbound HTTP clients send
func UserAgent() string { return "pagerflow/" + version }

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
