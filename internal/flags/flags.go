// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package flags reads the outliner configuration from the environment variable OUTLINER_FLAGS.
//
// The variable holds command-line style flags, e.g.:
//
//	OUTLINER_FLAGS="--look_through_depth=2 --require_unique_sharding"
package flags

import (
	"flag"
	"io"
	"os"
	"strings"

	"github.com/gomlx/outliner/matcher"
	"github.com/pkg/errors"
)

// OUTLINER_FLAGS is the name of the environment variable read by FromEnv.
//
//nolint:revive // Named after the variable itself.
const OUTLINER_FLAGS = "OUTLINER_FLAGS"

// Parse parses the flags in config into matcher options. Unknown flags and positional arguments are
// errors.
func Parse(config string) (opts matcher.Options, err error) {
	fs := flag.NewFlagSet(OUTLINER_FLAGS, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.LookThroughMaxDepth, "look_through_depth", 0,
		"Maximum number of associative operations looked through when matching patterns.")
	fs.BoolVar(&opts.RequireUniqueSharding, "require_unique_sharding", false,
		"Reject matches spanning instructions placed on different devices.")
	fs.BoolVar(&opts.RootOnly, "root_only", false,
		"Only match patterns anchored at the root of each region.")
	if err = fs.Parse(strings.Fields(config)); err != nil {
		return matcher.Options{}, errors.Wrapf(err, "parsing %s=%q", OUTLINER_FLAGS, config)
	}
	if fs.NArg() > 0 {
		return matcher.Options{}, errors.Errorf("parsing %s=%q: unexpected arguments %q", OUTLINER_FLAGS, config, fs.Args())
	}
	if opts.LookThroughMaxDepth < 0 {
		return matcher.Options{}, errors.Errorf("parsing %s=%q: --look_through_depth must be >= 0, got %d",
			OUTLINER_FLAGS, config, opts.LookThroughMaxDepth)
	}
	return opts, nil
}

// FromEnv returns the options configured in the OUTLINER_FLAGS environment variable. If it is not
// set, it returns defaults.
func FromEnv(defaults matcher.Options) (matcher.Options, error) {
	config, found := os.LookupEnv(OUTLINER_FLAGS)
	if !found {
		return defaults, nil
	}
	return Parse(config)
}
