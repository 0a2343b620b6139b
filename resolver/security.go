package resolver

import (
	"fmt"
	"strings"
)

const maxExpressionLength = 500
const maxBracketDepth = 10

// SecurityError reports a key expression rejected before parsing or
// evaluation.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("ratelimitcore: key expression rejected: %s", e.Reason)
}

// blacklist is the case-insensitive substring ban: type-reference syntax,
// constructor syntax, class and classloader access, reflection and runtime
// access, script-engine names, JNDI/RMI lookups, MethodHandle access, and
// property-placeholder markers.
var blacklist = []string{
	"t(",
	"new ",
	".class",
	"classloader",
	"getclass",
	"forname",
	"runtime",
	"reflect",
	"scriptengine",
	"nashorn",
	"groovy",
	"jndi",
	"rmi",
	"methodhandle",
	"introspector",
	"${",
	"%{",
	"java.lang",
	"javax.naming",
	"processbuilder",
}

// checkSecurity runs the three pre-parse checks: length, bracket depth, and
// blacklist substring ban. It is run again, cheaply, before evaluation so a
// cache entry built under an older, looser blacklist can never bypass a
// tightened one.
func checkSecurity(template string) error {
	if len(template) > maxExpressionLength {
		return &SecurityError{Reason: fmt.Sprintf("expression exceeds %d characters", maxExpressionLength)}
	}

	depth := 0
	maxSeen := 0
	for _, r := range template {
		switch r {
		case '(', '[', '{':
			depth++
			if depth > maxSeen {
				maxSeen = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxSeen > maxBracketDepth {
		return &SecurityError{Reason: fmt.Sprintf("bracket depth exceeds %d", maxBracketDepth)}
	}

	lower := strings.ToLower(template)
	for _, banned := range blacklist {
		if strings.Contains(lower, banned) {
			return &SecurityError{Reason: fmt.Sprintf("contains forbidden construct %q", banned)}
		}
	}
	return nil
}
