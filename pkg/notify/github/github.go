// Package github reports run results as GitHub commit statuses, so a run
// triggered from CI marks the commit it tested.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	gogh "github.com/google/go-github/v68/github"

	"github.com/runbox/runbox/pkg/model"
)

// Notifier sets a commit status on the tested commit.
type Notifier struct {
	gh      *gogh.Client
	repo    string // "owner/name"
	sha     string
	context string
}

// New creates a Notifier for the given repository and commit.
func New(token, repo, sha string) *Notifier {
	return &Notifier{
		gh:      gogh.NewClient(nil).WithAuthToken(token),
		repo:    repo,
		sha:     sha,
		context: "runbox",
	}
}

// Name returns the notifier name.
func (n *Notifier) Name() string { return "github" }

// RunFinished sets the commit status to success or failure.
func (n *Notifier) RunFinished(ctx context.Context, summary model.RunSummary) error {
	owner, repo, err := splitRepo(n.repo)
	if err != nil {
		return err
	}

	state := "success"
	desc := fmt.Sprintf("%d files passed in %s", len(summary.Files), summary.Duration.Round(time.Second))
	if !summary.Passed() {
		state = "failure"
		desc = fmt.Sprintf("%d of %d files failed", len(summary.Failed), len(summary.Files))
	}

	_, _, err = n.gh.Repositories.CreateStatus(ctx, owner, repo, n.sha, &gogh.RepoStatus{
		State:       gogh.Ptr(state),
		Description: gogh.Ptr(desc),
		Context:     gogh.Ptr(n.context),
	})
	if err != nil {
		return fmt.Errorf("setting status on %s@%s: %w", n.repo, n.sha, err)
	}
	return nil
}

func splitRepo(full string) (owner, repo string, err error) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q, want owner/name", full)
	}
	return parts[0], parts[1], nil
}
