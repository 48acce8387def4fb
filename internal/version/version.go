// Package version carries build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// String renders "opsai <version> (<commit>, <date>) <go version>", omitting
// unset build fields.
func String() string {
	var meta []string
	if Commit != "" {
		meta = append(meta, Commit)
	}
	if BuildDate != "" {
		meta = append(meta, BuildDate)
	}
	out := "opsai " + Version
	if len(meta) > 0 {
		out += " (" + strings.Join(meta, ", ") + ")"
	}
	return fmt.Sprintf("%s %s/%s %s", out, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
