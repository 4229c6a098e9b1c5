package cli

// This file contains Git integration utilities for retrieving
// repository information.

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/perfgo/bootcheck/model"
)

func (a *App) getGitInfo() (*model.Git, error) {
	git := &model.Git{}
	for _, q := range []struct {
		dst  *string
		args []string
	}{
		{&git.Commit, []string{"rev-parse", "HEAD"}},
		{&git.Branch, []string{"rev-parse", "--abbrev-ref", "HEAD"}},
		{&git.Repo, []string{"rev-parse", "--show-toplevel"}},
	} {
		output, err := exec.Command("git", q.args...).Output()
		if err != nil {
			return nil, fmt.Errorf("failed to run git %s: %w", strings.Join(q.args, " "), err)
		}
		*q.dst = strings.TrimSpace(string(output))
	}
	git.Repo = filepath.Base(git.Repo)
	return git, nil
}
