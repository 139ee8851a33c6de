// Package tuning applies operator-controlled knobs to a running collector
// from a watched JSON file. Edits to the file take effect without
// restarting the host program.
package tuning

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/intuitivelabs/slog"

	"github.com/stutter-lang/stutter/internal/gc"
)

// RuntimeVersion is the version advertised to tuning files.
const RuntimeVersion = "0.3.0"

// Controller is the collector surface the tuning loop drives.
type Controller interface {
	Pause()
	Resume()
	Run() uintptr
}

// Options is the tuning file schema.
type Options struct {
	// Requires is an optional semver constraint the runtime version must
	// satisfy before the file is applied, e.g. ">=0.3.0 <1.0.0".
	Requires string `json:"requires,omitempty"`
	// Paused toggles automatic collection; absent leaves it untouched.
	Paused *bool `json:"paused,omitempty"`
	// LogLevel is one of debug, info, warning, error.
	LogLevel string `json:"log_level,omitempty"`
	// Collect forces a full collection when true.
	Collect bool `json:"collect,omitempty"`
}

// Load reads and validates a tuning file.
func Load(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tuning: read %s: %w", path, err)
	}

	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("tuning: parse %s: %w", path, err)
	}

	if opts.Requires != "" {
		constraint, err := semver.NewConstraint(opts.Requires)
		if err != nil {
			return nil, fmt.Errorf("tuning: bad requires %q: %w", opts.Requires, err)
		}
		v := semver.MustParse(RuntimeVersion)
		if !constraint.Check(v) {
			return nil, fmt.Errorf("tuning: runtime %s does not satisfy %q", RuntimeVersion, opts.Requires)
		}
	}

	if opts.LogLevel != "" {
		if _, err := parseLogLevel(opts.LogLevel); err != nil {
			return nil, err
		}
	}

	return &opts, nil
}

// Apply pushes the options onto a controller.
func Apply(opts *Options, ctl Controller) {
	if opts.LogLevel != "" {
		lev, _ := parseLogLevel(opts.LogLevel)
		gc.SetLogLevel(lev)
	}

	if opts.Paused != nil {
		if *opts.Paused {
			ctl.Pause()
		} else {
			ctl.Resume()
		}
	}

	if opts.Collect {
		freed := ctl.Run()
		gc.INFO("tuning-forced collection freed %d bytes", freed)
	}
}

func parseLogLevel(name string) (slog.LogLevel, error) {
	switch name {
	case "debug":
		return slog.LDBG, nil
	case "info":
		return slog.LINFO, nil
	case "warning":
		return slog.LWARN, nil
	case "error":
		return slog.LERR, nil
	default:
		return 0, fmt.Errorf("tuning: unknown log level %q", name)
	}
}
