package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/spf13/afero"
)

const mainBranch = "main"

var hashPattern = regexp.MustCompile(`^[0-9a-f]{4,40}$`)

// GitBackend keeps snapshots as commits on the main branch of a repository
// inside the workspace directory.
type GitBackend struct {
	root string
	fs   afero.Fs
}

func NewGitBackend(root string) Backend {
	return &GitBackend{
		root: root,
		fs:   afero.NewBasePathFs(afero.NewOsFs(), root),
	}
}

func (g *GitBackend) Init(ctx context.Context, author Author) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	repo, err := git.PlainInit(g.root, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read repo config: %w", err)
	}
	cfg.User.Name = author.Name
	cfg.User.Email = author.Email
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("write repo config: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

func (g *GitBackend) Commit(ctx context.Context, reason string, allowEmpty bool) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return Entry{}, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := stageAll(worktree); err != nil {
		return Entry{}, err
	}

	hash, err := worktree.Commit(reason, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            signature(repo),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj), nil
}

func (g *GitBackend) Log(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return readLog(repo)
}

func (g *GitBackend) Has(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !hashPattern.MatchString(id) {
		return false, nil
	}
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return false, fmt.Errorf("open repo: %w", err)
	}
	hash, err := resolveHash(repo, id)
	if err != nil {
		return false, nil
	}
	// Snapshots dropped by a hard reset still exist as objects but are no
	// longer part of the history.
	entries, err := readLog(repo)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.ID == hash.String() {
			return true, nil
		}
	}
	return false, nil
}

func (g *GitBackend) DiffApply(ctx context.Context, fromID, toID string) error {
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	fromTree, err := treeAt(repo, fromID)
	if err != nil {
		return err
	}
	toTree, err := treeAt(repo, toID)
	if err != nil {
		return err
	}
	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, nil)
	if err != nil {
		return fmt.Errorf("diff %s..%s: %w", fromID, toID, err)
	}

	// Deletions first so a file replaced by a directory of the same name
	// is out of the way before the directory is written.
	writes := make([]*object.Change, 0, len(changes))
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return fmt.Errorf("classify change: %w", err)
		}
		if action != merkletrie.Delete {
			writes = append(writes, change)
			continue
		}
		if err := g.fs.Remove(change.From.Name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", change.From.Name, err)
		}
		g.pruneEmptyDirs(path.Dir(change.From.Name))
	}
	for _, change := range writes {
		_, to, err := change.Files()
		if err != nil {
			return fmt.Errorf("load change files: %w", err)
		}
		if err := g.writeFile(to); err != nil {
			return err
		}
	}
	return nil
}

func (g *GitBackend) ResetHard(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	hash, err := resolveHash(repo, id)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset to %s: %w", id, err)
	}
	return nil
}

func (g *GitBackend) Dirty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return false, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	return !status.IsClean(), nil
}

func (g *GitBackend) writeFile(file *object.File) error {
	reader, err := file.Reader()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read %s: %w", file.Name, err)
	}
	if dir := path.Dir(file.Name); dir != "." {
		if err := g.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(g.fs, file.Name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file.Name, err)
	}
	return nil
}

func (g *GitBackend) pruneEmptyDirs(dir string) {
	for dir != "." && dir != "/" && dir != "" {
		empty, err := afero.IsEmpty(g.fs, dir)
		if err != nil || !empty {
			return
		}
		if err := g.fs.Remove(dir); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}

// stageAll stages every change in the working tree, deletions included.
func stageAll(worktree *git.Worktree) error {
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	for name, fileStatus := range status {
		switch fileStatus.Worktree {
		case git.Unmodified:
			continue
		case git.Deleted:
			if _, err := worktree.Remove(name); err != nil {
				return fmt.Errorf("git rm %s: %w", name, err)
			}
		default:
			if _, err := worktree.Add(name); err != nil {
				return fmt.Errorf("git add %s: %w", name, err)
			}
		}
	}
	return nil
}

func readLog(repo *git.Repository) ([]Entry, error) {
	iter, err := repo.Log(&git.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func treeAt(repo *git.Repository, id string) (*object.Tree, error) {
	hash, err := resolveHash(repo, id)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", id, err)
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", id, err)
	}
	return tree, nil
}

func signature(repo *git.Repository) *object.Signature {
	sig := &object.Signature{Name: "livedit", Email: "livedit@localhost", When: time.Now()}
	cfg, err := repo.Config()
	if err != nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		ID:        commitObj.Hash.String(),
		Timestamp: commitObj.Author.When,
		Reason:    strings.TrimRight(commitObj.Message, "\n"),
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
