// Package format runs external source formatters over workspace files.
package format

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("no formatter for file type")

// Formatter rewrites a file in place. rel is relative to dir.
type Formatter interface {
	Format(ctx context.Context, dir, rel string) error
}

// Command formats files by running argv with the file path appended.
type Command struct {
	argv    []string
	timeout time.Duration
}

func NewCommand(argv []string, timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Command{argv: argv, timeout: timeout}
}

func (c *Command) Format(ctx context.Context, dir, rel string) error {
	if len(c.argv) == 0 {
		return errors.New("formatter command is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string{}, c.argv[1:]...), rel)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", c.argv[0], rel, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Registry picks a formatter by file extension.
type Registry struct {
	byExt map[string]Formatter
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Formatter)}
}

// Prettier registers command for the file types prettier handles here.
func Prettier(command []string) *Registry {
	r := NewRegistry()
	f := NewCommand(command, 0)
	for _, ext := range []string{".js", ".css", ".html"} {
		r.Register(ext, f)
	}
	return r
}

func (r *Registry) Register(ext string, f Formatter) {
	r.byExt[strings.ToLower(ext)] = f
}

func (r *Registry) Lookup(rel string) (Formatter, bool) {
	f, ok := r.byExt[strings.ToLower(path.Ext(rel))]
	return f, ok
}

// Format runs the formatter registered for rel, or returns ErrUnsupported.
func (r *Registry) Format(ctx context.Context, dir, rel string) error {
	f, ok := r.Lookup(rel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, rel)
	}
	return f.Format(ctx, dir, rel)
}
