// Package vault abstracts the real file tree the overlay shadows. The
// overlay only ever reads through it; writing approved content back to
// disk belongs to the host application.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound indicates the path does not exist in the vault.
	ErrNotFound = errors.New("path not found in vault")
	// ErrEscapesRoot indicates a path that resolves outside the vault root.
	ErrEscapesRoot = errors.New("path escapes vault root")
)

// Vault is the external collaborator the overlay consults for paths it
// does not track yet. Implementations must be safe for sequential reuse;
// the overlay never calls them concurrently.
type Vault interface {
	FileExists(ctx context.Context, path string) (bool, error)
	FolderExists(ctx context.Context, path string) (bool, error)
	ReadFile(ctx context.Context, path string) (string, error)
}

// DirVault serves a directory on the local file system, confined to its
// root.
type DirVault struct {
	root string
}

// NewDirVault creates a vault over root, which must exist.
func NewDirVault(root string) (*DirVault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", abs)
	}
	return &DirVault{root: abs}, nil
}

// Root returns the absolute directory this vault serves.
func (v *DirVault) Root() string { return v.root }

func (v *DirVault) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	if cleaned == "/" {
		return v.root, nil
	}
	full := filepath.Join(v.root, cleaned)
	if !strings.HasPrefix(full, v.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, path)
	}
	return full, nil
}

func (v *DirVault) FileExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := v.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (v *DirVault) FolderExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := v.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (v *DirVault) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := v.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
