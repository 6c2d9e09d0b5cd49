// Package version reports the build version of SDMA toolkit programs.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Version describes a build.
type Version struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Date      time.Time `json:"date"`
	Dirty     bool      `json:"dirty"`
	GoVersion string    `json:"goVersion"`
}

func (v Version) String() string {
	return v.Version
}

// Get returns build information recorded by the Go toolchain.
// Builds outside a git checkout are reported as "development".
func Get() (v Version) {
	v = Version{
		Version: "development",
		Commit:  "unknown",
		Dirty:   true,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.GoVersion = bi.GoVersion
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v.Version = bi.Main.Version
	}

	settings := map[string]string{}
	for _, kv := range bi.Settings {
		settings[kv.Key] = kv.Value
	}
	commit := settings["vcs.revision"]
	dt, e := time.Parse(time.RFC3339, settings["vcs.time"])
	if settings["vcs"] != "git" || len(commit) != 40 || e != nil {
		return v
	}

	v.Commit, v.Date, v.Dirty = commit, dt, settings["vcs.modified"] == "true"
	if v.Version == "development" {
		suffix := ""
		if v.Dirty {
			suffix = "-dirty"
		}
		v.Version = fmt.Sprintf("v0.0.0-%s-%s%s", dt.UTC().Format("20060102150405"), commit[:12], suffix)
	}
	return v
}
