package envfile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPolicyInvalidKey = errors.New("envfile: invalid policy key")
	ErrPolicyOverlap    = errors.New("envfile: key listed as both secret and tunable")
)

// KeyClass marks which mutation rule applies to an env key.
type KeyClass string

const (
	ClassSecret    KeyClass = "secret"
	ClassTunable   KeyClass = "tunable"
	ClassUnmanaged KeyClass = "unmanaged"
)

// Policy partitions env keys by mutation ownership.
type Policy struct {
	Secrets  []string
	Tunables []string
}

// Validate rejects malformed keys and secret/tunable overlap.
func (p Policy) Validate() error {
	seen := make(map[string]KeyClass, len(p.Secrets)+len(p.Tunables))
	for _, key := range p.Secrets {
		if !isValidKey(key) {
			return fmt.Errorf("%w: %q", ErrPolicyInvalidKey, key)
		}
		seen[key] = ClassSecret
	}
	for _, key := range p.Tunables {
		if !isValidKey(key) {
			return fmt.Errorf("%w: %q", ErrPolicyInvalidKey, key)
		}
		if seen[key] == ClassSecret {
			return fmt.Errorf("%w: %q", ErrPolicyOverlap, key)
		}
		seen[key] = ClassTunable
	}
	return nil
}

// Classify returns the mutation class for one key.
func (p Policy) Classify(key string) KeyClass {
	for _, k := range p.Secrets {
		if k == key {
			return ClassSecret
		}
	}
	for _, k := range p.Tunables {
		if k == key {
			return ClassTunable
		}
	}
	return ClassUnmanaged
}

func isValidKey(key string) bool {
	if strings.TrimSpace(key) == "" || key != strings.TrimSpace(key) {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		isUpper := c >= 'A' && c <= 'Z'
		isDigit := c >= '0' && c <= '9'
		if !(isUpper || isDigit || c == '_') {
			return false
		}
		if i == 0 && isDigit {
			return false
		}
	}
	return true
}
