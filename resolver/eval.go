package resolver

import (
	"fmt"
	"strconv"
)

// evalError is a domain error from evaluation against a specific context. It
// is distinct from a SecurityError, which is rejected before evaluation
// ever runs.
type evalError struct{ msg string }

func (e *evalError) Error() string { return e.msg }

// evaluate walks the compiled tree against ctx. A nil result renders as the
// literal "null".
func evaluate(n node, ctx Context) (string, error) {
	v, err := evalNode(n, ctx)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "null", nil
	}
	return fmt.Sprint(v), nil
}

func evalNode(n node, ctx Context) (interface{}, error) {
	switch v := n.(type) {
	case literalNode:
		return v.value, nil

	case variableNode:
		switch v.name {
		case "ip":
			return ctx.RemoteAddr, nil
		case "user":
			return ctx.Principal, nil
		case "args":
			return ctx.Args, nil
		case "headers":
			return ctx.Headers, nil
		default:
			return nil, &evalError{msg: fmt.Sprintf("ratelimitcore: unknown binding %q", v.name)}
		}

	case memberNode:
		target, err := evalNode(v.target, ctx)
		if err != nil {
			return nil, err
		}
		principal, ok := target.(Principal)
		if !ok || principal == nil {
			return nil, &evalError{msg: "ratelimitcore: member access is only permitted on the principal binding"}
		}
		val, found := principal.Get(v.member)
		if !found {
			return nil, nil
		}
		return val, nil

	case indexNode:
		target, err := evalNode(v.target, ctx)
		if err != nil {
			return nil, err
		}
		keyVal, err := evalNode(v.key, ctx)
		if err != nil {
			return nil, err
		}
		keyStr, _ := keyVal.(string)

		switch t := target.(type) {
		case Headers:
			val, found := t.Get(keyStr)
			if !found {
				return nil, nil
			}
			return val, nil
		case []string:
			idx, convErr := strconv.Atoi(keyStr)
			if convErr != nil || idx < 0 || idx >= len(t) {
				return nil, &evalError{msg: fmt.Sprintf("ratelimitcore: args index %q out of range", keyStr)}
			}
			return t[idx], nil
		default:
			return nil, &evalError{msg: "ratelimitcore: indexing is only permitted on headers and args"}
		}

	case concatNode:
		var out string
		for _, part := range v.parts {
			s, err := evaluate(part, ctx)
			if err != nil {
				return nil, err
			}
			out += s
		}
		return out, nil

	default:
		return nil, &evalError{msg: "ratelimitcore: unrecognized expression node"}
	}
}
