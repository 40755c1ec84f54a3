package remote

import (
	"io"
	"os/exec"

	"github.com/danmuck/deployctl/internal/tools"
)

// LocalRunner executes commands on the local host. It is the runner used
// by deployd, which runs on the deployment target itself.
type LocalRunner struct {
	Dir string
}

func (r LocalRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	return tools.ExecRunner{Dir: r.Dir}.Run(name, args...)
}

func (r LocalRunner) RunStreaming(name string, args []string, stdout, stderr io.Writer) error {
	command := exec.Command(name, args...)
	command.Dir = r.Dir
	if stdout != nil {
		command.Stdout = stdout
	}
	if stderr != nil {
		command.Stderr = stderr
	}
	return command.Run()
}
