package deploy

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	logs "github.com/danmuck/deployctl/internal/logging"
)

var (
	ErrUnsupportedRepo = errors.New("deploy: unsupported repository url")
	ErrNotARepository  = errors.New("deploy: root exists but is not a git repository")
)

// stepFetch brings the checkout to the tip of the configured branch.
// Fast-forward only: a diverged checkout fails the deploy instead of
// silently rewriting history on the host.
func (p *Pipeline) stepFetch(_ *Report) (StepResult, error) {
	root := p.cfg.Root

	if _, err := os.Stat(filepath.Join(root, ".git")); errors.Is(err, os.ErrNotExist) {
		if strings.TrimSpace(p.cfg.RepoURL) == "" {
			return StepResult{Status: StepError, ExitCode: 1},
				fmt.Errorf("%w: %s (no repo url configured for initial clone)", ErrNotARepository, root)
		}
		return p.cloneFresh()
	} else if err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}

	commands := [][]string{
		{"git", "-C", root, "fetch", "--all", "--prune"},
		{"git", "-C", root, "checkout", p.cfg.Branch},
		{"git", "-C", root, "pull", "--ff-only", "origin", p.cfg.Branch},
	}
	var result StepResult
	for _, argv := range commands {
		out, err := p.runGit(argv)
		result = out
		if err != nil {
			return result, err
		}
	}
	result.Status = StepOK
	return result, nil
}

func (p *Pipeline) cloneFresh() (StepResult, error) {
	repo := strings.TrimSpace(p.cfg.RepoURL)
	if err := validateRepoURL(repo); err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}
	// Runners chdir into the root, so it has to exist before the clone
	// command runs. git accepts an existing empty directory as the target.
	if err := os.MkdirAll(p.cfg.Root, 0o755); err != nil {
		return StepResult{Status: StepError, ExitCode: 1}, err
	}

	logs.Infof("deploy.Pipeline clone repo=%q branch=%q root=%q", repo, p.cfg.Branch, p.cfg.Root)
	result, err := p.runGit([]string{
		"git", "clone", "--branch", p.cfg.Branch, "--single-branch", repo, p.cfg.Root,
	})
	if err != nil {
		return result, err
	}
	result.Status = StepOK
	return result, nil
}

func (p *Pipeline) runGit(argv []string) (StepResult, error) {
	stdout, stderr, exitCode, err := p.runner.Run(argv[0], argv[1:]...)
	result := StepResult{
		Status:   StepOK,
		Stdout:   trimOutput(stdout),
		Stderr:   trimOutput(stderr),
		ExitCode: exitCode,
	}
	if err != nil {
		result.Status = StepError
		return result, fmt.Errorf(
			"git command failed args=%q exit=%d stderr=%q: %w",
			strings.Join(argv[1:], " "),
			exitCode,
			result.Stderr,
			err,
		)
	}
	return result, nil
}

func validateRepoURL(repo string) error {
	u, err := url.Parse(repo)
	if err != nil {
		return fmt.Errorf("%w: %q parse error: %v", ErrUnsupportedRepo, repo, err)
	}
	if u.Scheme != "https" || strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("%w: %q must be an https remote", ErrUnsupportedRepo, repo)
	}
	if strings.TrimSpace(u.Path) == "" || u.Path == "/" {
		return fmt.Errorf("%w: %q missing repository path", ErrUnsupportedRepo, repo)
	}
	return nil
}
