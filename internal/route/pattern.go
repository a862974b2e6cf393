package route

import (
	"strings"
)

// segment is one path segment of a compiled source pattern.
type segment struct {
	literal   string
	isParam   bool
	paramName string
}

// pattern is a pre-split source pattern ready for segment-by-segment
// matching. Parameter and wildcard segments both normalize to the wildcard
// marker; only parameters capture a value.
type pattern struct {
	source   string
	segments []segment
}

// wildcardMarker replaces every parameter or wildcard segment in the
// normalized pattern key.
const wildcardMarker = "*"

// compilePattern splits a source pattern into segments.
func compilePattern(source string) pattern {
	parts := splitPath(source)
	segments := make([]segment, 0, len(parts))

	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			segments = append(segments, segment{isParam: true, paramName: part[1:]})
		case part == wildcardMarker:
			segments = append(segments, segment{isParam: true})
		default:
			segments = append(segments, segment{literal: part})
		}
	}

	return pattern{source: source, segments: segments}
}

// normalized returns the pattern key with every parameter segment replaced
// by the wildcard marker. Routes whose patterns differ only by parameter
// name share a key; the table does not special-case that collision.
func (p pattern) normalized() string {
	parts := make([]string, len(p.segments))
	for i, seg := range p.segments {
		if seg.isParam {
			parts[i] = wildcardMarker
		} else {
			parts[i] = seg.literal
		}
	}
	return "/" + strings.Join(parts, "/")
}

// literalCount returns the number of non-parameter segments.
func (p pattern) literalCount() int {
	n := 0
	for _, seg := range p.segments {
		if !seg.isParam {
			n++
		}
	}
	return n
}

// match checks the pattern against pre-split request path segments and
// extracts named parameter values. Parameter segments match any value;
// literal segments must be equal.
func (p pattern) match(pathSegments []string) (map[string]string, bool) {
	if len(pathSegments) != len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		if !seg.isParam {
			if seg.literal != pathSegments[i] {
				return nil, false
			}
			continue
		}
		if seg.paramName != "" {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.paramName] = pathSegments[i]
		}
	}

	return params, true
}

// splitPath splits a URL path into segments, dropping empty ones.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
