// Package path compiles the route patterns services declare into anchored
// regular expressions. ":name" matches one path segment, "*" matches the
// remainder; parameter order follows token order in the pattern.
package path

import (
	"encoding/json"
	"regexp"
	"strings"
)

var paramTokens = regexp.MustCompile(`:([^/]+)|\*`)

// Params maps parameter names (":id" → "id", "*" → "*") to the captured
// substrings of a matched path.
type Params map[string]string

// Matcher is a compiled route pattern.
type Matcher struct {
	pattern    string
	regex      *regexp.Regexp
	paramNames []string
}

// NewMatcher compiles a pattern. Literal segments are escaped; the result
// is anchored at both ends.
func NewMatcher(pattern string) (*Matcher, error) {
	var b strings.Builder
	b.WriteString("^")
	var paramNames []string

	if !strings.HasPrefix(pattern, "/") {
		b.WriteString("/")
	}

	start := 0
	for _, loc := range paramTokens.FindAllStringSubmatchIndex(pattern, -1) {
		b.WriteString(regexp.QuoteMeta(pattern[start:loc[0]]))
		if pattern[loc[0]:loc[1]] == "*" {
			b.WriteString(`(.*)`)
			paramNames = append(paramNames, "*")
		} else {
			b.WriteString(`([^/]+)`)
			paramNames = append(paramNames, pattern[loc[2]:loc[3]])
		}
		start = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(pattern[start:]))
	b.WriteString("$")

	regex, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}

	return &Matcher{
		pattern:    pattern,
		regex:      regex,
		paramNames: paramNames,
	}, nil
}

// GenParams matches a path against the pattern. Returns nil on no match; on
// match, a non-nil map of parameter name to captured segment.
func (m *Matcher) GenParams(path string) Params {
	captures := m.regex.FindStringSubmatch(path)
	if captures == nil {
		return nil
	}
	params := make(Params, len(m.paramNames))
	for i, name := range m.paramNames {
		params[name] = captures[i+1]
	}
	return params
}

// Pattern returns the source pattern.
func (m *Matcher) Pattern() string { return m.pattern }

// RegexString returns the compiled regular expression, for diagnostics.
func (m *Matcher) RegexString() string { return m.regex.String() }

// MarshalJSON renders pattern plus compiled regex, mirroring what the
// service list endpoint exposes.
func (m *Matcher) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Pattern string `json:"pattern"`
		Regex   string `json:"regex"`
	}{m.pattern, m.regex.String()})
}

// NormalizeSlashPath resolves "." and ".." segments and collapses
// separators, keeping the result relative. Used to confine script storage
// access below the service's storage root.
func NormalizeSlashPath(path string) string {
	var result []string
	for _, s := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch s {
		case "", ".":
		case "..":
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, s)
		}
	}
	return strings.Join(result, "/")
}
