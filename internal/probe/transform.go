package probe

import (
	"regexp"
	"strconv"
	"strings"
)

// Transform maps the raw text read from a file, command, or environment
// variable into the value placed in the telemetry payload. The set is
// closed by design (spec §4.5, §9): no user-supplied expression is ever
// evaluated, only these six named kinds.
type Transform func(raw string) (any, error)

// TransformSpec is the configuration-declared shape of a transform: a name
// from the closed set, plus the one parameter some kinds need.
type TransformSpec struct {
	Name string // "identity", "parse-int", "parse-float", "scale-by-constant", "trim", "regex-extract"

	// Scale multiplies a parsed float by this factor (scale-by-constant).
	Scale float64

	// Pattern is the regular expression for regex-extract; the value is
	// the first capture group, or the whole match if there is no group.
	Pattern string
}

// Build resolves spec into a callable Transform, or ErrUnsupportedTransform
// if spec.Name is outside the declared set. This runs once at config load
// time so a malformed transform is a ConfigError, never a runtime surprise.
func (spec TransformSpec) Build() (Transform, error) {
	switch spec.Name {
	case "", "identity":
		return identityTransform, nil
	case "trim":
		return trimTransform, nil
	case "parse-int":
		return parseIntTransform, nil
	case "parse-float":
		return parseFloatTransform, nil
	case "scale-by-constant":
		scale := spec.Scale
		return func(raw string) (any, error) {
			return scaleByConstantTransform(raw, scale)
		}, nil
	case "regex-extract":
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, &Error{Kind: ErrUnsupportedTransform, Message: "invalid regex-extract pattern", Cause: err}
		}
		return func(raw string) (any, error) {
			return regexExtractTransform(raw, re)
		}, nil
	default:
		return nil, &Error{Kind: ErrUnsupportedTransform, Message: spec.Name}
	}
}

func identityTransform(raw string) (any, error) {
	return raw, nil
}

func trimTransform(raw string) (any, error) {
	return strings.TrimSpace(raw), nil
}

func parseIntTransform(raw string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, &Error{Kind: ErrProbeFailed, Message: "parse-int", Cause: err}
	}
	return n, nil
}

func parseFloatTransform(raw string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, &Error{Kind: ErrProbeFailed, Message: "parse-float", Cause: err}
	}
	return f, nil
}

func scaleByConstantTransform(raw string, scale float64) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, &Error{Kind: ErrProbeFailed, Message: "scale-by-constant", Cause: err}
	}
	return f * scale, nil
}

func regexExtractTransform(raw string, re *regexp.Regexp) (any, error) {
	match := re.FindStringSubmatch(raw)
	if match == nil {
		return nil, &Error{Kind: ErrProbeFailed, Message: "regex-extract: no match"}
	}
	if len(match) > 1 {
		return match[1], nil
	}
	return match[0], nil
}
