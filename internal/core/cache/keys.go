package cache

import (
	"fmt"
	"sort"
	"strings"
)

// keyEscaper keeps the key grammar injective: delimiter characters inside
// parameter names or values cannot forge another query's key shape.
var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "=", `\=`)

// Key builds the cache key for an operation and its parameters. Parameters
// are serialized in sorted-key order with delimiters escaped, so two
// identical queries always produce the same key and two different queries
// never collide:
//
//	operation|k1=v1|k2=v2
func Key(operation string, params map[string]interface{}) string {
	if len(params) == 0 {
		return operation
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(operation)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", keyEscaper.Replace(k), keyEscaper.Replace(fmt.Sprint(params[k])))
	}
	return b.String()
}

// OperationPattern matches every key of one operation, regardless of params.
func OperationPattern(operation string) string {
	return operation + "*"
}
