package cli

import (
	"fmt"
	"strings"
)

var blockedShellPatterns = []string{
	"&&", "||", ";", "|", ">", "<", "`", "$(", "${",
}

func firstBlockedShellPattern(command string) (string, bool) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return "", false
	}
	for _, p := range blockedShellPatterns {
		if strings.Contains(cmd, p) {
			return p, true
		}
	}
	return "", false
}

// validateExtraArgs rejects extra tool args that rely on a shell.
func validateExtraArgs(args []string) error {
	for _, arg := range args {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("empty argument")
		}
		if p, ok := firstBlockedShellPattern(arg); ok {
			return fmt.Errorf("argument %q contains disallowed shell pattern %q; tools are started without a shell", arg, p)
		}
	}
	return nil
}
