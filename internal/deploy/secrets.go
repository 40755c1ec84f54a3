package deploy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

var (
	ErrSecretSourcePath  = errors.New("deploy: secret source path is required")
	ErrSecretSourceParse = errors.New("deploy: secret source parse failed")
)

// SecretSource supplies the trusted values written into secret env keys
// on every deploy.
type SecretSource interface {
	Trusted() (map[string]string, error)
}

// FileSource reads trusted values from a TOML file delivered out of band
// (the host-local equivalent of the CI secret store).
type FileSource struct {
	Path string
}

func (s FileSource) Trusted() (map[string]string, error) {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, ErrSecretSourcePath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSecretSourceParse, path, err)
	}
	return raw, nil
}

// StaticSource serves fixed values; used by tests and by agent-pushed
// secret refreshes.
type StaticSource map[string]string

func (s StaticSource) Trusted() (map[string]string, error) {
	out := make(map[string]string, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out, nil
}
