package baseline

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

func runGit(dir string, env []string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, out)
	}
	return nil
}

func initRepo(dir string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return err
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
		{"config", "commit.gpgsign", "false"},
	} {
		if err := runGit(dir, nil, args...); err != nil {
			return err
		}
	}
	return nil
}

func commitAll(dir string, at time.Time) error {
	stamp := at.UTC().Format(time.RFC3339)
	env := []string{"GIT_AUTHOR_DATE=" + stamp, "GIT_COMMITTER_DATE=" + stamp}
	if err := runGit(dir, env, "add", "-A"); err != nil {
		return err
	}
	return runGit(dir, env, "commit", "-q", "-m", "snapshot")
}
