package handlers

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// SandboxPrefix names every sandbox directory.
const SandboxPrefix = "sovereign_sandbox_"

// Sandbox is a disposable copy of a workspace.
type Sandbox struct {
	Path   string
	Digest string // BLAKE3 over the copied tree (paths, link targets, contents)
	Files  int
}

// CloneWorkspace copies src into a fresh, uniquely named directory under
// parent (os.TempDir() when empty). Entries whose base name is in exclude are
// skipped at any depth. Regular files keep their mode and modification time;
// symlinks are recreated, other special files are ignored. The directory is
// never removed by this package.
func CloneWorkspace(src, parent string, exclude map[string]bool) (*Sandbox, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", src)
	}

	dir, err := os.MkdirTemp(parent, SandboxPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	sb := &Sandbox{Path: dir}
	tree := blake3.New()

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == src {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if exclude[d.Name()] {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		dest := filepath.Join(dir, rel)
		slashRel := filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			fmt.Fprintf(tree, "d\x00%s\x00", slashRel)
			return os.MkdirAll(dest, fi.Mode().Perm()|0700)

		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(tree, "l\x00%s\x00%s\x00", slashRel, target)
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return err
			}
			return os.Symlink(target, dest)

		case d.Type().IsRegular():
			sum, err := copyFile(path, dest)
			if err != nil {
				return err
			}
			sb.Files++
			fmt.Fprintf(tree, "f\x00%s\x00", slashRel)
			tree.Write(sum)
			return nil
		}
		return nil
	})
	if err != nil {
		return sb, fmt.Errorf("failed to copy workspace into sandbox: %w", err)
	}

	sb.Digest = hex.EncodeToString(tree.Sum(nil))
	return sb, nil
}

// copyFile copies one regular file and returns the BLAKE3 digest of its contents.
func copyFile(src, dest string) ([]byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return nil, err
	}

	h := blake3.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	if err := os.Chtimes(dest, fi.ModTime(), fi.ModTime()); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
