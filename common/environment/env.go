// Package environment overlays configuration values with environment
// variables.
//
// Every helper takes a pointer to the current value and overwrites it only
// when the variable is set to a non-empty string, so defaults and file-loaded
// values stay in place otherwise. Parse failures are returned instead of
// silently ignored: a typo in a deployment manifest should stop startup.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the variable's value when it is set and non-empty.
func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// String overwrites *dst with the variable's value. It reports whether the
// variable was applied.
func String(name string, dst *string) bool {
	v, ok := lookup(name)
	if ok {
		*dst = v
	}
	return ok
}

// Int overwrites *dst with the variable parsed as a decimal integer.
func Int(name string, dst *int) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", name, v)
	}
	*dst = n
	return nil
}

// Uint8 overwrites *dst with the variable parsed as an integer in [0, 255].
func Uint8(name string, dst *uint8) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer in [0, 255]", name, v)
	}
	*dst = uint8(n)
	return nil
}

// Bool overwrites *dst with the variable parsed by strconv.ParseBool.
func Bool(name string, dst *bool) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", name, v)
	}
	*dst = b
	return nil
}

// Duration overwrites *dst with the variable parsed by time.ParseDuration.
func Duration(name string, dst *time.Duration) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not a duration", name, v)
	}
	*dst = d
	return nil
}

// StringSlice overwrites *dst with the variable split on commas. Elements are
// trimmed and empty ones dropped; a value with no elements leaves *dst as is.
func StringSlice(name string, dst *[]string) bool {
	v, ok := lookup(name)
	if !ok {
		return false
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return false
	}
	*dst = out
	return true
}
