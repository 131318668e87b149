package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// Command patterns denied regardless of arguments.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b\s+/`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bsudo\b`),
}

const defaultShellTimeout = 60 * time.Second

// ShellTool runs commands for the bash skill. Long commands honor both
// the timeout argument and the session's cancellation mailbox.
type ShellTool struct {
	workingDir string
}

func NewShellTool(workingDir string) *ShellTool {
	return &ShellTool{workingDir: workingDir}
}

func (t *ShellTool) Name() string { return "bash" }

func (t *ShellTool) Description() string {
	return "Execute a shell command and return its output"
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout": map[string]interface{}{
				"type":        "number",
				"description": "Optional timeout in seconds (default 60)",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: matches pattern %s", pattern.String()))
		}
	}

	timeout := defaultShellTimeout
	if secs, ok := args["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	cwd := t.workingDir
	if ws := WorkspaceFromCtx(ctx); ws != "" {
		cwd = ws
	}
	if wd, _ := args["working_dir"].(string); wd != "" {
		cwd = wd
	}

	ctx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ErrorResult(fmt.Sprintf("start command: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	mailbox := MailboxFromCtx(ctx)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var runErr error
wait:
	for {
		select {
		case runErr = <-done:
			break wait
		case <-ticker.C:
			if mailbox != nil && mailbox.TryConsume() {
				_ = cmd.Process.Kill()
				<-done
				// Re-post so the runtime's guard observes the
				// cancellation after the tool returns.
				mailbox.TrySignal()
				return ErrorResult("command interrupted by cancellation")
			}
		}
	}

	var result string
	if stdout.Len() > 0 {
		result = stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", timeout))
		}
		if result == "" {
			result = runErr.Error()
		}
		return ErrorResult(result)
	}
	if result == "" {
		result = "(command completed with no output)"
	}
	return NewResult(result)
}
