// Package featureflags switches client behaviors on and off from a
// "name=value" list such as "optimistic_rollback=off,webp_uploads=25%".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Known flags.
const (
	// OptimisticRollback reverts an optimistic toggle when the request fails.
	OptimisticRollback = "optimistic_rollback"
	// WebPUploads encodes prepared images as WebP instead of JPEG.
	WebPUploads = "webp_uploads"
	// ForcedSignOut signs the user out when the server rejects the token.
	ForcedSignOut = "forced_sign_out"
)

// Defaults apply when a flag is absent from the configured list.
var Defaults = map[string]string{
	OptimisticRollback: "on",
	WebPUploads:        "off",
	ForcedSignOut:      "on",
}

// rule is the parsed value of one flag. pct is -1 for plain on/off.
type rule struct {
	on  bool
	pct int
}

func parseRule(value string) (rule, bool) {
	switch value {
	case "on", "true", "1":
		return rule{on: true, pct: -1}, true
	case "off", "false", "0":
		return rule{on: false, pct: -1}, true
	}
	pctRaw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil {
		return rule{}, false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return rule{pct: pct}, true
}

// Flags evaluates the configured list over Defaults. A nil *Flags reports
// the defaults.
type Flags struct {
	raw   map[string]string
	rules map[string]rule
}

// Parse builds Flags from a comma separated list. Malformed entries are
// ignored.
func Parse(list string) *Flags {
	f := &Flags{raw: make(map[string]string), rules: make(map[string]rule)}
	for name, value := range Defaults {
		f.set(name, value)
	}

	for _, pair := range strings.Split(list, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		f.set(name, value)
	}
	return f
}

func (f *Flags) set(name, value string) {
	name, value = normalize(name), normalize(value)
	if name == "" {
		return
	}
	r, ok := parseRule(value)
	if !ok {
		return
	}
	f.raw[name] = value
	f.rules[name] = r
}

// Enabled evaluates name for userID. Percentage rollouts are deterministic
// per user and disabled for anonymous callers (userID 0).
func (f *Flags) Enabled(name string, userID uint) bool {
	if f == nil {
		f = Parse("")
	}
	r, ok := f.rules[normalize(name)]
	if !ok {
		return false
	}
	switch {
	case r.pct < 0:
		return r.on
	case r.pct == 0:
		return false
	case r.pct == 100:
		return true
	case userID == 0:
		return false
	default:
		return bucket(name, userID) < r.pct
	}
}

// Raw returns the effective name=value pairs.
func (f *Flags) Raw() map[string]string {
	out := make(map[string]string, len(f.raw))
	for k, v := range f.raw {
		out[k] = v
	}
	return out
}

// Snapshot evaluates every flag for userID.
func (f *Flags) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(f.rules))
	for name := range f.rules {
		out[name] = f.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
