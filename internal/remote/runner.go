package remote

import (
	"io"
	"strings"
)

// Runner extends tools.CommandRunner with streaming execution for
// long-running commands such as log following.
type Runner interface {
	Run(name string, args ...string) ([]byte, []byte, int32, error)
	RunStreaming(name string, args []string, stdout, stderr io.Writer) error
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
