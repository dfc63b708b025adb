// Package version exposes build metadata set through -ldflags, e.g.
//
//	go build -ldflags "-X github.com/aimikata/storyboard/version.GitRelease=v0.3.0"
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	// GitRelease is the release tag of the build.
	GitRelease = "dev"
	// GitCommit is the commit hash of the build.
	GitCommit = ""
	// GitCommitDate is the commit date of the build.
	GitCommitDate = ""
	// GoInfo is the toolchain that built the binary.
	GoInfo = runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
)

func init() {
	if GitCommit != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			GitCommitDate = s.Value
		}
	}
}
