package cache

import (
	"fmt"
	"strings"
)

// GenerateKeyWithParams appends every parameter to prefix, ':'-separated.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		fmt.Fprintf(&b, ":%v", param)
	}
	return b.String()
}
