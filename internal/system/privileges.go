package system

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-isatty"
)

// IsRoot checks if running as root
func IsRoot() bool {
	return os.Geteuid() == 0
}

// RequireRoot ensures the program is running as root
func RequireRoot() error {
	if !IsRoot() {
		return fmt.Errorf("this command must be run as root (try with sudo)")
	}
	return nil
}

// ElevatedCommand builds a command that runs the current binary with the
// given arguments under elevated rights. Already-root processes re-exec
// directly; interactive terminals use sudo; GUI contexts fall back to the
// polkit agent via pkexec.
func ElevatedCommand(args ...string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own binary: %w", err)
	}

	if IsRoot() {
		return exec.Command(self, args...), nil
	}

	if isatty.IsTerminal(os.Stdin.Fd()) {
		if _, err := exec.LookPath("sudo"); err == nil {
			return exec.Command("sudo", append([]string{self}, args...)...), nil
		}
	}

	if _, err := exec.LookPath("pkexec"); err == nil {
		return exec.Command("pkexec", append([]string{self}, args...)...), nil
	}

	return nil, fmt.Errorf("no elevation mechanism available (install sudo or polkit, or run as root)")
}
