package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// DefaultCloneTimeout bounds one git clone.
const DefaultCloneTimeout = 5 * time.Minute

// Checkout is a fetched source tree ready for scanning.
type Checkout struct {
	RepositoryID string
	Name         string
	URL          string // empty for local sources
	Kind         string // "git" or "local"
	Root         string
	Commit       string // HEAD commit when the tree is a git checkout
}

// Fetcher produces a local source tree for one repository.
type Fetcher interface {
	// RepositoryID returns the stable identifier the fetched repository
	// will be indexed under, without fetching.
	RepositoryID() string

	// Fetch materializes the source tree.
	Fetch(ctx context.Context) (*Checkout, error)
}

var ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// GitFetcher clones a remote git repository over https.
type GitFetcher struct {
	url      string
	owner    string
	repo     string
	cloneDir string
	timeout  time.Duration
	force    bool
}

// NewGitFetcher validates the URL and prepares a fetcher. Only https URLs
// with an owner/repo path are accepted.
func NewGitFetcher(rawURL, cloneDir string, timeout time.Duration, force bool) (*GitFetcher, error) {
	owner, repo, err := parseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultCloneTimeout
	}
	return &GitFetcher{
		url:      rawURL,
		owner:    owner,
		repo:     repo,
		cloneDir: cloneDir,
		timeout:  timeout,
		force:    force,
	}, nil
}

// parseRepoURL extracts owner and repository name from an https git URL.
func parseRepoURL(rawURL string) (owner, repo string, err error) {
	invalid := func(msg string) (string, string, error) {
		return "", "", qaerrors.New(qaerrors.ErrCodeInvalidRepoURL,
			fmt.Sprintf("%s: %s", msg, rawURL), nil).
			WithSuggestion("use an https URL like https://github.com/owner/repo")
	}

	u, perr := url.Parse(rawURL)
	if perr != nil {
		return invalid("not a valid URL")
	}
	if u.Scheme != "https" {
		return invalid("only https repository URLs are supported")
	}
	if u.Host == "" {
		return invalid("missing host")
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return invalid("expected an owner/repo path")
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if !ownerRepoPattern.MatchString(owner) || !ownerRepoPattern.MatchString(repo) {
		return invalid("invalid owner or repository name")
	}
	return owner, repo, nil
}

// RepositoryID implements Fetcher. The ID is stable per owner/repo so
// re-ingesting the same URL updates one repository.
func (f *GitFetcher) RepositoryID() string {
	return fmt.Sprintf("git_%s_%s_%s", sanitizeIDPart(f.owner), sanitizeIDPart(f.repo), shortHash(f.owner+"/"+f.repo))
}

// Fetch clones the repository, or reuses an existing clone after pulling it
// up to date. Force removes the checkout and clones fresh.
func (f *GitFetcher) Fetch(ctx context.Context) (*Checkout, error) {
	dest := filepath.Join(f.cloneDir, f.owner+"_"+f.repo)

	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.force {
		if err := os.RemoveAll(dest); err != nil {
			return nil, qaerrors.Wrap(qaerrors.ErrCodeCloneFailed, fmt.Errorf("failed to clear clone dir: %w", err))
		}
	}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		// Existing checkout: fast-forward instead of recloning.
		if err := runGit(cctx, dest, "pull", "--ff-only"); err != nil {
			return nil, qaerrors.Wrap(qaerrors.ErrCodeCloneFailed, err).
				WithSuggestion("re-run with --force to clone fresh")
		}
	} else {
		if err := os.MkdirAll(f.cloneDir, 0o755); err != nil {
			return nil, qaerrors.Wrap(qaerrors.ErrCodeCloneFailed, err)
		}
		cmd := exec.CommandContext(cctx, "git", "clone", "--depth", "1", f.url, dest)
		if out, err := cmd.CombinedOutput(); err != nil {
			// A partial clone must not be mistaken for a checkout later.
			_ = os.RemoveAll(dest)
			return nil, qaerrors.New(qaerrors.ErrCodeCloneFailed,
				fmt.Sprintf("git clone failed: %s", firstLine(string(out))), err)
		}
	}

	commit, _ := gitHead(cctx, dest)

	return &Checkout{
		RepositoryID: f.RepositoryID(),
		Name:         f.owner + "/" + f.repo,
		URL:          f.url,
		Kind:         "git",
		Root:         dest,
		Commit:       commit,
	}, nil
}

// LocalFetcher points at a directory already on disk.
type LocalFetcher struct {
	path string
}

// NewLocalFetcher validates the path and prepares a fetcher.
func NewLocalFetcher(path string) (*LocalFetcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, qaerrors.ValidationError(fmt.Sprintf("invalid path: %s", path), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeFileNotFound,
			fmt.Sprintf("path does not exist: %s", abs), err)
	}
	if !info.IsDir() {
		return nil, qaerrors.ValidationError(fmt.Sprintf("path is not a directory: %s", abs), nil)
	}
	return &LocalFetcher{path: abs}, nil
}

// RepositoryID implements Fetcher.
func (f *LocalFetcher) RepositoryID() string {
	return fmt.Sprintf("local_%s_%s", sanitizeIDPart(filepath.Base(f.path)), shortHash(f.path))
}

// Fetch implements Fetcher. Local trees are indexed in place.
func (f *LocalFetcher) Fetch(ctx context.Context) (*Checkout, error) {
	commit := ""
	if isGitWorkTree(f.path) {
		commit, _ = gitHead(ctx, f.path)
	}
	return &Checkout{
		RepositoryID: f.RepositoryID(),
		Name:         filepath.Base(f.path),
		Kind:         "local",
		Root:         f.path,
		Commit:       commit,
	}, nil
}

// NewFetcher picks the fetcher for a source string: https URLs clone,
// anything else is treated as a local path.
func NewFetcher(source, cloneDir string, timeout time.Duration, force bool) (Fetcher, error) {
	if strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "http://") ||
		strings.HasPrefix(source, "git@") {
		return NewGitFetcher(source, cloneDir, timeout, force)
	}
	return NewLocalFetcher(source)
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %s", strings.Join(args, " "), firstLine(string(out)))
	}
	return nil
}

func gitHead(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// sanitizeIDPart keeps repository IDs filesystem- and URL-safe.
func sanitizeIDPart(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return strings.Trim(sb.String(), "-")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
