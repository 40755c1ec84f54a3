package envfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

var (
	ErrFileMissing = errors.New("envfile: file does not exist")
	ErrParse       = errors.New("envfile: parse failed")
)

const filePerm os.FileMode = 0o600

// Load reads and parses an env file into a key/value map.
func Load(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	return values, nil
}

// Exists reports whether the env file is present on disk.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// render produces file content with secret keys first, tunables second,
// and unmanaged keys last, each block in policy (or sorted) order. The
// ordering is deterministic so repeated reconciles with identical inputs
// are byte-identical.
func render(values map[string]string, policy Policy) string {
	var builder strings.Builder
	written := make(map[string]struct{}, len(values))

	writeKey := func(key string) {
		value, ok := values[key]
		if !ok {
			return
		}
		if _, dup := written[key]; dup {
			return
		}
		written[key] = struct{}{}
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(quoteValue(value))
		builder.WriteByte('\n')
	}

	for _, key := range policy.Secrets {
		writeKey(key)
	}
	for _, key := range policy.Tunables {
		writeKey(key)
	}

	rest := make([]string, 0, len(values))
	for key := range values {
		if _, dup := written[key]; !dup {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		writeKey(key)
	}

	return builder.String()
}

// quoteValue renders a value so that Load reads back the exact same
// string. Dollar signs count as special: the parser expands $VAR in
// unquoted and double-quoted values unless the dollar is escaped.
func quoteValue(value string) string {
	if value == "" {
		return ""
	}
	if strings.ContainsAny(value, " \t#\"'\n\\$") {
		escaped := strings.ReplaceAll(value, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		escaped = strings.ReplaceAll(escaped, `$`, `\$`)
		return `"` + escaped + `"`
	}
	return value
}

// writeAtomic replaces the env file contents via tmp file and rename so a
// crashed deploy never leaves a half-written environment behind.
func writeAtomic(path string, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".env.tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
