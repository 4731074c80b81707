package datex

import (
	"strconv"
	"strings"

	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// multilingual returns the first text of a DATEX multilingual string element
// (values/value, value, or plain text).
func multilingual(n *xmltree.Node) string {
	if n == nil {
		return ""
	}
	if v := n.Path("values.value"); v != nil {
		return v.Text
	}
	if v := n.Child("value"); v != nil {
		return v.Text
	}
	return n.Text
}

// stripPrefix drops a namespace prefix from a qualified xsi:type value.
func stripPrefix(s string) string {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// optionalNumber returns an int for integral text, a float64 for decimal text
// and nil when the value is absent or not numeric.
func optionalNumber(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, ok := parseNumber(s); ok {
		return f
	}
	return nil
}

// optionalBool returns the xsd:boolean value, or nil when absent or invalid.
func optionalBool(s string) any {
	switch strings.TrimSpace(s) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
