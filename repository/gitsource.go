package repository

import (
	"context"
	"errors"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/crmarques/portsync/faults"
)

// GitSource keeps a local checkout of the declarations repository current
// before a reconciliation pass reads from it.
type GitSourceConfig struct {
	URL     string         `yaml:"url"`
	Branch  string         `yaml:"branch,omitempty"`
	BaseDir string         `yaml:"base-dir"`
	Auth    *GitAuthConfig `yaml:"auth,omitempty"`
}

type GitAuthConfig struct {
	BasicAuth *GitBasicAuthConfig `yaml:"basic-auth,omitempty"`
	SSH       *GitSSHAuthConfig   `yaml:"ssh,omitempty"`
}

type GitBasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type GitSSHAuthConfig struct {
	User                  string `yaml:"user,omitempty"`
	PrivateKeyFile        string `yaml:"private-key-file"`
	Passphrase            string `yaml:"passphrase,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure-ignore-host-key,omitempty"`
}

type GitSource struct {
	config GitSourceConfig
}

func NewGitSource(config GitSourceConfig) *GitSource {
	return &GitSource{config: config}
}

func (s *GitSource) BaseDir() string {
	return s.config.BaseDir
}

// Sync clones the declarations repository on first use and fast-forwards
// the checkout on every later pass, so the pass always reconciles from
// the branch head.
func (s *GitSource) Sync(ctx context.Context) error {
	if strings.TrimSpace(s.config.URL) == "" {
		return faults.NewTypedError(faults.LoadError, "git source url is required", nil)
	}
	if strings.TrimSpace(s.config.BaseDir) == "" {
		return faults.NewTypedError(faults.LoadError, "git source base-dir is required", nil)
	}

	auth, err := s.auth()
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(s.config.BaseDir); os.IsNotExist(statErr) {
		return s.clone(ctx, auth)
	}
	return s.pull(ctx, auth)
}

func (s *GitSource) clone(ctx context.Context, auth transport.AuthMethod) error {
	options := &git.CloneOptions{
		URL:  s.config.URL,
		Auth: auth,
	}
	if branch := strings.TrimSpace(s.config.Branch); branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(branch)
		options.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, s.config.BaseDir, false, options); err != nil {
		return faults.NewTypedError(faults.LoadError, "failed to clone declarations repository", err)
	}
	return nil
}

func (s *GitSource) pull(ctx context.Context, auth transport.AuthMethod) error {
	repo, err := git.PlainOpen(s.config.BaseDir)
	if err != nil {
		return faults.NewTypedError(faults.LoadError, "failed to open declarations repository", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return faults.NewTypedError(faults.LoadError, "failed to open repository worktree", err)
	}

	options := &git.PullOptions{
		Auth: auth,
	}
	if branch := strings.TrimSpace(s.config.Branch); branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(branch)
		options.SingleBranch = true
	}

	err = worktree.PullContext(ctx, options)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return faults.NewTypedError(faults.LoadError, "failed to pull declarations repository", err)
	}
	return nil
}

func (s *GitSource) auth() (transport.AuthMethod, error) {
	auth := s.config.Auth
	if auth == nil {
		return nil, nil
	}

	if auth.BasicAuth != nil {
		return &githttp.BasicAuth{
			Username: auth.BasicAuth.Username,
			Password: auth.BasicAuth.Password,
		}, nil
	}

	if auth.SSH != nil {
		username := strings.TrimSpace(auth.SSH.User)
		if username == "" {
			username = "git"
		}
		keys, err := gitssh.NewPublicKeysFromFile(username, auth.SSH.PrivateKeyFile, auth.SSH.Passphrase)
		if err != nil {
			return nil, faults.NewTypedError(faults.AuthError, "failed to load git ssh auth configuration", err)
		}
		if auth.SSH.InsecureIgnoreHostKey {
			keys.HostKeyCallback = ssh.InsecureIgnoreHostKey()
		}
		return keys, nil
	}

	return nil, faults.NewTypedError(faults.ValidationError, "git source auth configuration is invalid", nil)
}
