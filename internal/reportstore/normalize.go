package reportstore

import "regexp"

// The benchmark binaries emit a JSON-ish blob with unquoted identifier
// keys/values and trailing commas (spec.md section 4.5.1). Three regex
// passes in a fixed order turn it into strict JSON:
//  1. wrap every bare identifier token in double quotes
//  2. collapse any resulting doubled quote back to one
//  3. delete a trailing comma before a closing bracket or brace
var (
	bareIdentifier = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]*`)
	doubledQuote   = regexp.MustCompile(`""`)
	trailingComma  = regexp.MustCompile(`,(\s*[\]}])`)
)

// Normalize converts a benchmark binary's quasi-JSON report blob into
// strict JSON (spec.md section 4.5.1). It is idempotent: applying it
// twice yields the same string it yielded once (spec.md section 8).
func Normalize(raw string) string {
	quoted := bareIdentifier.ReplaceAllString(raw, `"$0"`)
	collapsed := doubledQuote.ReplaceAllString(quoted, `"`)
	return trailingComma.ReplaceAllString(collapsed, `$1`)
}
