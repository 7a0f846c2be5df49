// Package porttemplate implements the Template Engine (spec.md §4.5): the
// two-pass expansion of $PORT / ${PORT} / ${PORT:name} tokens inside
// environment values at start time. Unlike the teacher's generic
// text/template-plus-sprig engine (internal/template in giantswarm-muster),
// this substrate never errors and never evaluates expressions — it only
// ever substitutes a small, fixed token vocabulary and leaves anything it
// cannot resolve untouched, so a regexp-based scan-and-replace is the
// correct fit here, not a general templating library (see DESIGN.md).
package porttemplate

import (
	"regexp"
	"strconv"
)

// namedTokenPattern matches ${PORT:<name>} where name follows the shared
// service-name charset.
var namedTokenPattern = regexp.MustCompile(`\$\{PORT:([A-Za-z0-9._-]+)\}`)

// ownTokenPattern matches $PORT (at a word boundary) or ${PORT}; a
// ${PORT:name} token is not matched.
var ownTokenPattern = regexp.MustCompile(`\$PORT\b|\$\{PORT\}`)

// Apply expands value against ownPort (this service's resolved port, <= 0
// meaning unresolved) and servicePorts (name -> resolved port for other
// services). Named tokens are replaced first; an own-service token is only
// replaced once, after all named tokens, and only if ownPort is valid.
// Unexpandable tokens are preserved verbatim (spec.md §4.5, §8).
func Apply(value string, ownPort int, servicePorts map[string]int) string {
	expanded := namedTokenPattern.ReplaceAllStringFunc(value, func(tok string) string {
		m := namedTokenPattern.FindStringSubmatch(tok)
		name := m[1]
		if port, ok := servicePorts[name]; ok && port > 0 {
			return strconv.Itoa(port)
		}
		return tok
	})

	if ownPort <= 0 {
		return expanded
	}
	return ownTokenPattern.ReplaceAllString(expanded, strconv.Itoa(ownPort))
}

// ApplyPortTemplate is the single-port convenience form used by the
// testable properties (spec.md §8): applyPortTemplate(value, port).
func ApplyPortTemplate(value string, ownPort int) string {
	return Apply(value, ownPort, nil)
}

// ApplyEnv expands every value in env against ownPort and servicePorts,
// returning a new map.
func ApplyEnv(env map[string]string, ownPort int, servicePorts map[string]int) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = Apply(v, ownPort, servicePorts)
	}
	return out
}
