package rewrite

import (
	"fmt"
	"strings"
)

// Strategy selects how the footer is injected into an encoded body.
type Strategy int

const (
	// StrategyAppend concatenates the footer after the body. For gzip bodies
	// the footer is compressed into its own gzip member.
	StrategyAppend Strategy = iota
	// StrategyDecode decompresses the body, appends the plain footer and
	// drops Content-Encoding.
	StrategyDecode
	// StrategyTransform decompresses the body, appends the footer and
	// recompresses the result.
	StrategyTransform
)

var strategyNames = map[Strategy]string{
	StrategyAppend:    "append",
	StrategyDecode:    "decode",
	StrategyTransform: "transform",
}

// ParseStrategy maps a GZIP_METHOD value to a Strategy. Empty selects
// StrategyAppend.
func ParseStrategy(s string) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return StrategyAppend, nil
	}
	for st, n := range strategyNames {
		if n == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown gzip method %q (want append, decode or transform)", s)
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}
