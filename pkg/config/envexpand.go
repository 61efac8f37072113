package config

import (
	"os"
	"regexp"
)

// envRefPattern matches ${VAR_NAME} references. Braces are mandatory: bare
// $VAR stays untouched so SQL text and passwords survive expansion, and the
// {{...}} delimiters of agent prompt templates never collide.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv expands ${VAR} environment references in YAML content.
// Missing variables expand to empty string; validation catches required
// fields that end up empty.
func ExpandEnv(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRefPattern.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}
