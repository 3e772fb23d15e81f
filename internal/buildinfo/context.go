// Package buildinfo holds version metadata injected at link time.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// Info is the build metadata of the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// New returns build info, substituting UnknownValue for empty fields.
func New(version, buildDate string) *Info {
	return &Info{
		Version:   orUnknown(version),
		BuildDate: orUnknown(buildDate),
		GoVersion: runtime.Version(),
	}
}

// GetVersion returns the version, tolerating a nil receiver.
func (i *Info) GetVersion() string {
	if i == nil {
		return UnknownValue
	}
	return orUnknown(i.Version)
}

// GetBuildDate returns the build date, tolerating a nil receiver.
func (i *Info) GetBuildDate() string {
	if i == nil {
		return UnknownValue
	}
	return orUnknown(i.BuildDate)
}

// String formats the info for the version command.
func (i *Info) String() string {
	return fmt.Sprintf("entityindex %s (built %s, %s)", i.GetVersion(), i.GetBuildDate(), runtime.Version())
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
