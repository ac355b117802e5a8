package version

// Version is the application version. Override via ldflags:
//
//	go build -ldflags "-X ipsentry/internal/version.Version=1.2.3 -X ipsentry/internal/version.Build=153"
var Version = "0.1.0"

// Build is the build number, injected at compile time.
var Build = "dev"
