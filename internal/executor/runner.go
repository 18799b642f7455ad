package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Output is the captured result of one operation run.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes one named operation. A non-zero exit is reported through
// Output.ExitCode; the error return is reserved for runs that could not
// start or did not finish.
type Runner interface {
	Run(ctx context.Context, operation string, args []string) (Output, error)
}

// NodeRunner runs compiled scripts as `node <dir>/dist/<operation>.js args...`.
type NodeRunner struct {
	Dir  string
	Node string
}

// NewNodeRunner locates the node binary and returns a runner rooted at dir.
func NewNodeRunner(dir string) (*NodeRunner, error) {
	node, err := findNode()
	if err != nil {
		return nil, err
	}
	return &NodeRunner{Dir: dir, Node: node}, nil
}

func findNode() (string, error) {
	for _, name := range []string{"node", "node.exe"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("node binary not found in PATH")
}

// ScriptPath returns the script that implements operation.
func (r *NodeRunner) ScriptPath(operation string) string {
	return filepath.Join(r.Dir, "dist", operation+".js")
}

func (r *NodeRunner) Run(ctx context.Context, operation string, args []string) (Output, error) {
	script := r.ScriptPath(operation)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return Output{}, fmt.Errorf("%w: %s (build the executor first)", ErrScriptNotFound, script)
		}
		return Output{}, fmt.Errorf("stat script: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Node, append([]string{script}, args...)...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("run %s: %w", operation, err)
	}
	return out, nil
}
