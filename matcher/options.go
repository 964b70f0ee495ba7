// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Options of a Matcher.
type Options struct {
	// RootOnly restricts the candidates to the root of each region.
	RootOnly bool

	// RequireUniqueSharding rejects matches whose replaced instructions are placed on different devices.
	// Constants and wide constants are not taken into account, since they can be materialized anywhere.
	RequireUniqueSharding bool

	// LookThroughMaxDepth is the maximum number of associative operations the matcher looks through,
	// when an operand of the anchor instruction doesn't match. 0 disables the look-through.
	LookThroughMaxDepth int
}

// String implements fmt.Stringer, in the format accepted by ParseOptions.
func (opts Options) String() string {
	var parts []string
	if opts.RootOnly {
		parts = append(parts, "root_only")
	}
	if opts.RequireUniqueSharding {
		parts = append(parts, "unique_sharding")
	}
	if opts.LookThroughMaxDepth > 0 {
		parts = append(parts, fmt.Sprintf("look_through=%d", opts.LookThroughMaxDepth))
	}
	return strings.Join(parts, ",")
}

// ParseOptions parses a comma separated list of options, e.g.: "root_only,unique_sharding,look_through=3".
// Empty entries are ignored, and the unspecified options take their zero value.
func ParseOptions(config string) (opts Options, err error) {
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "root_only":
			opts.RootOnly, err = parseBool(key, value, hasValue)
		case "unique_sharding":
			opts.RequireUniqueSharding, err = parseBool(key, value, hasValue)
		case "look_through":
			if !hasValue {
				return opts, errors.Errorf("matcher option %q requires a value, e.g. \"look_through=3\"", key)
			}
			opts.LookThroughMaxDepth, err = strconv.Atoi(value)
			if err == nil && opts.LookThroughMaxDepth < 0 {
				err = errors.Errorf("matcher option %q cannot be negative, got %d", key, opts.LookThroughMaxDepth)
			}
		default:
			return opts, errors.Errorf("unknown matcher option %q in %q", key, config)
		}
		if err != nil {
			return opts, errors.Wrapf(err, "parsing matcher options %q", config)
		}
	}
	return
}

func parseBool(key, value string, hasValue bool) (bool, error) {
	if !hasValue {
		return true, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "invalid value for %q", key)
	}
	return b, nil
}
