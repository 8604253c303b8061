package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Clone checks out url into dest, replacing any existing checkout.
func Clone(ctx context.Context, url, dest string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("git clone: repository url is empty")
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove existing checkout %s: %w", dest, err)
	}
	if parent := filepath.Dir(dest); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}
	if _, err := run(ctx, "", "clone", "--depth", "1", url, dest); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// HeadRevision returns the commit hash checked out in dir.
func HeadRevision(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return string(output), nil
}
