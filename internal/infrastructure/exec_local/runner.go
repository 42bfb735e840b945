package exec_local

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/relforge/relforge/internal/domain"
)

// Runner executes job commands through the local shell. Each command runs
// as its own process in the workspace directory; per-command environment
// entries are appended on top of the inherited environment.
type Runner struct {
	dir string
}

func New(dir string) *Runner { return &Runner{dir: dir} }

func (r *Runner) Run(ctx context.Context, cmd domain.Command) (string, error) {
	line := strings.TrimSpace(cmd.Line)
	if line == "" {
		return "", fmt.Errorf("empty command")
	}

	var c *exec.Cmd
	if runtime.GOOS == "windows" {
		c = exec.CommandContext(ctx, "cmd", "/C", line)
	} else {
		c = exec.CommandContext(ctx, "sh", "-c", line)
	}
	c.Dir = r.dir

	env := os.Environ()
	for k, v := range cmd.Env {
		env = append(env, k+"="+v)
	}
	c.Env = env

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return out.String(), fmt.Errorf("command %q: %w", line, ctx.Err())
		}
		return out.String(), fmt.Errorf("command %q: %w", line, err)
	}
	return out.String(), nil
}
