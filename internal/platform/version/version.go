package version

import (
	"fmt"
	"runtime"
)

// Build information, injected via ldflags at build time
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const Service = "medidash-realtime"

type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Service:   Service,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s %s (%s, %s)", i.Service, i.Version, short, i.GoVersion)
}
