// Package notify surfaces errors the user has to act on outside the terminal.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const AppName = "kino"

// command is swapped in tests.
var command = "notify-send"

// Alert shows a desktop notification. It fails when no notification daemon
// client is installed.
func Alert(title, msg string) error {
	bin, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "--app-name", AppName, "--urgency", "critical", title, msg)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: %w: %s", err, out)
	}
	return nil
}
