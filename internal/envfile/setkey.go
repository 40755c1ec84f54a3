package envfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	logs "github.com/danmuck/deployctl/internal/logging"
)

var (
	ErrKeyNotTunable   = errors.New("envfile: key is not runtime-tunable")
	ErrSecretImmutable = errors.New("envfile: secret keys are deploy-owned")
)

// SetKey persists one runtime-tunable key via in-place line substitution,
// preserving the surrounding file layout. Secret keys are rejected: only
// the deploy pipeline may write them. The key is appended when no line
// for it exists yet.
func SetKey(path string, key string, value string, policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	switch policy.Classify(key) {
	case ClassTunable:
	case ClassSecret:
		return fmt.Errorf("%w: %s", ErrSecretImmutable, key)
	default:
		return fmt.Errorf("%w: %s", ErrKeyNotTunable, key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		return err
	}

	content := string(data)
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	replaced := false
	for i, line := range lines {
		if !lineDefinesKey(line, key) {
			continue
		}
		lines[i] = key + "=" + quoteValue(value)
		replaced = true
	}
	if !replaced {
		lines = append(lines, key+"="+quoteValue(value))
	}

	out := strings.Join(lines, "\n")
	if hadTrailingNewline || !replaced {
		out += "\n"
	}
	if err := writeAtomic(path, out); err != nil {
		return err
	}

	logs.Infof("envfile.SetKey ok path=%q key=%s replaced=%v", path, key, replaced)
	return nil
}

// lineDefinesKey matches "KEY=..." lines, tolerating leading whitespace
// and an optional "export " prefix.
func lineDefinesKey(line string, key string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "export ")
	trimmed = strings.TrimSpace(trimmed)
	if !strings.HasPrefix(trimmed, key) {
		return false
	}
	rest := strings.TrimPrefix(trimmed, key)
	rest = strings.TrimLeft(rest, " \t")
	return strings.HasPrefix(rest, "=")
}
