package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// HelpText is the output of show_help.
const HelpText = `Things you can ask for:
  create a folder named reports
  create 10 folders named test1 to test10 and in each create 3 files
  create a file named table.txt containing multiplication table of 7
  delete folders test1 to test10
  move draft.txt to archive
  copy notes.txt to backup
  rename old.txt to new.txt
  list files in docs
  analyze src
  run ls -la
  set verbose to true
Chain commands with "then".`

const defaultMaxOutput = 64 * 1024

// LocalAdapter performs operations on the local filesystem, confined to a
// root directory.
type LocalAdapter struct {
	root      string
	allowed   map[string]bool
	maxOutput int64

	mu       sync.Mutex
	settings map[string]string
}

// NewLocalAdapter creates an adapter rooted at cfg.WorkingDirectory.
func NewLocalAdapter(cfg config.ExecutionConfig) (*LocalAdapter, error) {
	dir := cfg.WorkingDirectory
	if dir == "" {
		dir = "."
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	allowed := make(map[string]bool, len(cfg.AllowedBinaries))
	for _, b := range cfg.AllowedBinaries {
		allowed[b] = true
	}
	return &LocalAdapter{
		root:      root,
		allowed:   allowed,
		maxOutput: defaultMaxOutput,
		settings:  make(map[string]string),
	}, nil
}

// Root returns the sandbox directory.
func (a *LocalAdapter) Root() string {
	return a.root
}

// Settings returns a copy of the values recorded by set_config.
func (a *LocalAdapter) Settings() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.settings))
	for k, v := range a.settings {
		out[k] = v
	}
	return out
}

// resolve maps a plan path into the sandbox.
func (a *LocalAdapter) resolve(op types.Operation, p string) (string, error) {
	if p == "" {
		return "", opErr(op, p, types.ErrInvalidPath, errors.New("empty path"))
	}
	if strings.HasPrefix(p, "~") {
		return "", opErr(op, p, types.ErrPermissionDenied, ErrOutsideSandbox)
	}
	full := filepath.FromSlash(p)
	if !filepath.IsAbs(full) {
		full = filepath.Join(a.root, full)
	}
	full = filepath.Clean(full)
	if !a.inside(full) {
		return "", opErr(op, p, types.ErrPermissionDenied, ErrOutsideSandbox)
	}

	// A delete removes a final symlink itself, so only its parent is followed.
	target := full
	if op == types.OpDeletePath {
		target = filepath.Dir(full)
	}
	resolved, err := realPath(target)
	if err != nil {
		return "", opErr(op, p, types.ErrPermissionDenied, err)
	}
	if op == types.OpDeletePath {
		resolved = filepath.Join(resolved, filepath.Base(full))
	}
	if !a.inside(resolved) {
		return "", opErr(op, p, types.ErrPermissionDenied, ErrOutsideSandbox)
	}
	return full, nil
}

func (a *LocalAdapter) inside(p string) bool {
	rel, err := filepath.Rel(a.root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// realPath follows symlinks in the longest existing prefix of p and appends
// the part that does not exist yet.
func realPath(p string) (string, error) {
	existing, rest := p, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return p, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, rest), nil
}

// Perform runs one operation.
func (a *LocalAdapter) Perform(ctx context.Context, op types.Operation, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", opErr(op, "", types.ErrNone, err)
	}

	switch op {
	case types.OpCreateFolder:
		return a.createFolder(params["path"])
	case types.OpCreateFile:
		return a.createFile(params["path"])
	case types.OpWriteContent:
		return a.writeContent(params["path"], params["content"])
	case types.OpDeletePath:
		return a.deletePath(params["path"])
	case types.OpMovePath, types.OpRenamePath:
		return a.movePath(op, params["source"], params["destination"])
	case types.OpCopyPath:
		return a.copyPath(params["source"], params["destination"])
	case types.OpListPath:
		return a.listPath(params["path"])
	case types.OpAnalyzePath:
		return a.analyzePath(params["path"])
	case types.OpRunCommand:
		return a.runCommand(ctx, params["command"], params["args"], params["dir"])
	case types.OpSetConfig:
		return a.setConfig(params["key"], params["value"])
	case types.OpShowHelp:
		return HelpText, nil
	}
	return "", unsupported(op)
}

func (a *LocalAdapter) createFolder(p string) (string, error) {
	full, err := a.resolve(types.OpCreateFolder, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", opErr(types.OpCreateFolder, p, types.ErrNone, err)
	}
	return "created folder " + p, nil
}

// createFile creates an empty file, leaving an existing one untouched so a
// retried step does not truncate content written since.
func (a *LocalAdapter) createFile(p string) (string, error) {
	full, err := a.resolve(types.OpCreateFile, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", opErr(types.OpCreateFile, p, types.ErrNone, err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", opErr(types.OpCreateFile, p, types.ErrNone, err)
	}
	if err := f.Close(); err != nil {
		return "", opErr(types.OpCreateFile, p, types.ErrNone, err)
	}
	return "created file " + p, nil
}

func (a *LocalAdapter) writeContent(p, content string) (string, error) {
	full, err := a.resolve(types.OpWriteContent, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", opErr(types.OpWriteContent, p, types.ErrNone, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", opErr(types.OpWriteContent, p, types.ErrNone, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), p), nil
}

func (a *LocalAdapter) deletePath(p string) (string, error) {
	full, err := a.resolve(types.OpDeletePath, p)
	if err != nil {
		return "", err
	}
	if full == a.root {
		return "", opErr(types.OpDeletePath, p, types.ErrPermissionDenied, errors.New("refusing to delete the working directory"))
	}
	if _, err := os.Lstat(full); err != nil {
		return "", opErr(types.OpDeletePath, p, types.ErrNone, err)
	}
	if err := os.RemoveAll(full); err != nil {
		return "", opErr(types.OpDeletePath, p, types.ErrNone, err)
	}
	return "deleted " + p, nil
}

// movePath moves src into dst when dst is an existing folder, else renames
// src to dst.
func (a *LocalAdapter) movePath(op types.Operation, src, dst string) (string, error) {
	from, err := a.resolve(op, src)
	if err != nil {
		return "", err
	}
	to, err := a.resolve(op, dst)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(from); err != nil {
		return "", opErr(op, src, types.ErrNone, err)
	}
	if info, err := os.Stat(to); err == nil && info.IsDir() && op == types.OpMovePath {
		to = filepath.Join(to, filepath.Base(from))
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", opErr(op, dst, types.ErrNone, err)
	}
	if err := os.Rename(from, to); err != nil {
		return "", opErr(op, src, types.ErrNone, err)
	}
	return fmt.Sprintf("moved %s to %s", src, a.display(to)), nil
}

func (a *LocalAdapter) copyPath(src, dst string) (string, error) {
	from, err := a.resolve(types.OpCopyPath, src)
	if err != nil {
		return "", err
	}
	to, err := a.resolve(types.OpCopyPath, dst)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(from)
	if err != nil {
		return "", opErr(types.OpCopyPath, src, types.ErrNone, err)
	}
	if dinfo, err := os.Stat(to); err == nil && dinfo.IsDir() {
		to = filepath.Join(to, filepath.Base(from))
	}

	if !info.IsDir() {
		if err := copyFile(from, to, info.Mode()); err != nil {
			return "", opErr(types.OpCopyPath, src, types.ErrNone, err)
		}
		return fmt.Sprintf("copied %s to %s", src, a.display(to)), nil
	}

	err = filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode())
	})
	if err != nil {
		return "", opErr(types.OpCopyPath, src, types.ErrNone, err)
	}
	return fmt.Sprintf("copied %s to %s", src, a.display(to)), nil
}

func copyFile(from, to string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (a *LocalAdapter) listPath(p string) (string, error) {
	if p == "" {
		p = "."
	}
	full, err := a.resolve(types.OpListPath, p)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", opErr(types.OpListPath, p, types.ErrNone, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (a *LocalAdapter) analyzePath(p string) (string, error) {
	if p == "" {
		p = "."
	}
	full, err := a.resolve(types.OpAnalyzePath, p)
	if err != nil {
		return "", err
	}
	var files, dirs int
	var size int64
	exts := map[string]int{}
	err = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != full {
				dirs++
			}
			return nil
		}
		files++
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		if ext := filepath.Ext(path); ext != "" {
			exts[ext]++
		}
		return nil
	})
	if err != nil {
		return "", opErr(types.OpAnalyzePath, p, types.ErrNone, err)
	}

	keys := make([]string, 0, len(exts))
	for k := range exts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d files, %d folders, %d bytes", p, files, dirs, size)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n  %s: %d", k, exts[k])
	}
	return sb.String(), nil
}

func (a *LocalAdapter) runCommand(ctx context.Context, command, args, dir string) (string, error) {
	if command == "" {
		return "", opErr(types.OpRunCommand, "", types.ErrInvalidPath, errors.New("empty command"))
	}
	if !a.allowed[command] {
		logging.TactileWarn("run_command blocked: %s", command)
		return "", opErr(types.OpRunCommand, command, types.ErrPermissionDenied, ErrNotAllowed)
	}
	workDir := a.root
	if dir != "" {
		var err error
		if workDir, err = a.resolve(types.OpRunCommand, dir); err != nil {
			return "", err
		}
	}

	cmd := exec.CommandContext(ctx, command, strings.Fields(args)...)
	cmd.Dir = workDir
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: a.maxOutput}
	cmd.Stdout = lw
	cmd.Stderr = lw

	logging.TactileDebug("run_command: %s %s (dir=%s)", command, args, workDir)
	err := cmd.Run()
	out := strings.TrimRight(buf.String(), "\n")
	if lw.truncated {
		out += fmt.Sprintf("\n... (%d bytes truncated)", lw.discarded)
	}
	if err != nil {
		if ctx.Err() != nil {
			return out, opErr(types.OpRunCommand, command, types.ErrNone, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, opErr(types.OpRunCommand, command, types.ErrUnknown,
				fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), lastLine(out)))
		}
		return out, opErr(types.OpRunCommand, command, types.ErrNone, err)
	}
	return out, nil
}

func (a *LocalAdapter) setConfig(key, value string) (string, error) {
	if key == "" {
		return "", opErr(types.OpSetConfig, "", types.ErrInvalidPath, errors.New("empty setting name"))
	}
	a.mu.Lock()
	a.settings[key] = value
	a.mu.Unlock()
	return fmt.Sprintf("%s = %s", key, value), nil
}

func (a *LocalAdapter) display(full string) string {
	if rel, err := filepath.Rel(a.root, full); err == nil {
		return filepath.ToSlash(rel)
	}
	return full
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
