package envfile

import (
	"errors"
	"fmt"
	"sort"

	logs "github.com/danmuck/deployctl/internal/logging"
)

var (
	ErrTrustedSecretMissing = errors.New("envfile: trusted source missing secret key")
)

// ChangeSummary reports what one reconcile pass did to the env file.
type ChangeSummary struct {
	Created   bool
	Refreshed []string
	Preserved []string
	Adopted   []string
	Unmanaged []string
}

// Reconcile applies the partitioned mutability rules to the env file at
// path using trusted values for secret (and first-seen tunable) keys.
//
// First deploy: the file is created from trusted values alone. Every
// later deploy: secret keys are rewritten from trusted, tunable keys keep
// whatever is on disk (trusted seeds them only when absent), and keys
// outside the policy are carried over untouched. The file is never
// recreated once it exists.
func Reconcile(path string, trusted map[string]string, policy Policy) (ChangeSummary, error) {
	if err := policy.Validate(); err != nil {
		return ChangeSummary{}, err
	}
	for _, key := range policy.Secrets {
		if _, ok := trusted[key]; !ok {
			return ChangeSummary{}, fmt.Errorf("%w: %s", ErrTrustedSecretMissing, key)
		}
	}

	present, err := Exists(path)
	if err != nil {
		return ChangeSummary{}, err
	}

	if !present {
		return createInitial(path, trusted, policy)
	}

	existing, err := Load(path)
	if err != nil {
		return ChangeSummary{}, err
	}

	merged := make(map[string]string, len(existing)+len(trusted))
	summary := ChangeSummary{}

	for key, value := range existing {
		merged[key] = value
		if policy.Classify(key) == ClassUnmanaged {
			summary.Unmanaged = append(summary.Unmanaged, key)
		}
	}

	for _, key := range policy.Secrets {
		merged[key] = trusted[key]
		summary.Refreshed = append(summary.Refreshed, key)
	}

	for _, key := range policy.Tunables {
		if _, ok := existing[key]; ok {
			summary.Preserved = append(summary.Preserved, key)
			continue
		}
		if value, ok := trusted[key]; ok {
			merged[key] = value
			summary.Adopted = append(summary.Adopted, key)
		}
	}

	sort.Strings(summary.Unmanaged)
	if err := writeAtomic(path, render(merged, policy)); err != nil {
		return ChangeSummary{}, err
	}

	logs.Infof(
		"envfile.Reconcile ok path=%q refreshed=%d preserved=%d adopted=%d unmanaged=%d",
		path,
		len(summary.Refreshed),
		len(summary.Preserved),
		len(summary.Adopted),
		len(summary.Unmanaged),
	)
	return summary, nil
}

// createInitial writes the first env file from trusted values only.
func createInitial(path string, trusted map[string]string, policy Policy) (ChangeSummary, error) {
	values := make(map[string]string, len(trusted))
	summary := ChangeSummary{Created: true}

	for _, key := range policy.Secrets {
		values[key] = trusted[key]
		summary.Refreshed = append(summary.Refreshed, key)
	}
	for _, key := range policy.Tunables {
		if value, ok := trusted[key]; ok {
			values[key] = value
			summary.Adopted = append(summary.Adopted, key)
		}
	}

	if err := writeAtomic(path, render(values, policy)); err != nil {
		return ChangeSummary{}, err
	}
	logs.Infof("envfile.Reconcile created path=%q keys=%d", path, len(values))
	return summary, nil
}
