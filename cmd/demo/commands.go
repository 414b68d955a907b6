package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/overlay"
)

func handleCommand(application *app, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	ctx := context.Background()
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help":
		printHelp()
		return false, nil

	case "ls":
		return false, listFiles(application)

	case "cat":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: cat <path>")
		}
		f, err := application.overlay.Staging().FileByPath(ctx, parts[1])
		if err != nil {
			return false, err
		}
		fmt.Println(f.Content)
		return false, nil

	case "write":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: write <path> <text>")
		}
		path := parts[1]
		text := strings.ReplaceAll(strings.Join(parts[2:], " "), "\\n", "\n")
		st := application.overlay.Staging()
		if _, err := st.FileByPath(ctx, path); err == nil {
			if err := st.Modify(ctx, path, text); err != nil {
				return false, err
			}
		} else if err := st.Create(ctx, path, text); err != nil {
			return false, err
		}
		fmt.Println("ok")
		return false, nil

	case "mkdir":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: mkdir <path>")
		}
		if err := application.overlay.Staging().CreateFolder(ctx, parts[1]); err != nil {
			return false, err
		}
		fmt.Println("ok")
		return false, nil

	case "rm":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: rm <path>")
		}
		if err := application.overlay.Staging().Delete(ctx, parts[1]); err != nil {
			return false, err
		}
		fmt.Println("ok")
		return false, nil

	case "mv":
		if len(parts) != 3 {
			return false, fmt.Errorf("usage: mv <src> <dst>")
		}
		if err := application.overlay.Staging().Rename(ctx, parts[1], parts[2]); err != nil {
			return false, err
		}
		fmt.Println("ok")
		return false, nil

	case "changes":
		printChanges(application.overlay.FileChanges())
		return false, nil

	case "approve":
		return false, resolveChanges(application, parts, "approved", func(cs []overlay.Change) error {
			return application.overlay.Approve(cs...)
		})

	case "reject":
		return false, resolveChanges(application, parts, "rejected", func(cs []overlay.Change) error {
			for _, c := range cs {
				if err := application.overlay.Reject(c); err != nil {
					return err
				}
			}
			return nil
		})

	case "sync":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: sync <path>")
		}
		if err := application.overlay.SyncPath(ctx, parts[1]); err != nil {
			return false, err
		}
		fmt.Println("ok")
		return false, nil

	case "save":
		id := application.session
		if len(parts) >= 2 {
			id = parts[1]
		}
		if err := application.sessions.Save(id, application.overlay); err != nil {
			return false, err
		}
		application.session = id
		fmt.Printf("saved %s\n", id)
		return false, nil

	case "load":
		id := application.session
		if len(parts) >= 2 {
			id = parts[1]
		}
		ov, err := application.sessions.Load(id, application.vault, overlay.WithLogger(application.log))
		if err != nil {
			return false, err
		}
		application.overlay = ov
		application.session = id
		fmt.Printf("loaded %s, %d pending change(s)\n", id, len(ov.FileChanges()))
		return false, nil

	case "sessions":
		metas, err := application.sessions.List()
		if err != nil {
			return false, err
		}
		if len(metas) == 0 {
			fmt.Println("(none)")
			return false, nil
		}
		for _, m := range metas {
			fmt.Printf("  %-20s saved %s, %d pending\n",
				m.ID, m.SavedAt.Local().Format("2006-01-02 15:04:05"), m.PendingChanges)
		}
		return false, nil

	case "stat":
		fmt.Printf("vault:   %s\n", application.vault.Root())
		fmt.Printf("session: %s\n", application.session)
		fmt.Printf("pending: %d change(s)\n", len(application.overlay.FileChanges()))
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command: %s", cmd)
	}
}

// listFiles prints the staging view: everything on disk, minus pending
// deletions, plus pending additions, with one-letter change markers.
func listFiles(application *app) error {
	paths := make(map[string]byte)

	root := application.vault.Root()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		paths["/"+filepath.ToSlash(rel)] = ' '
		return nil
	})
	if err != nil {
		return err
	}

	for _, ch := range application.overlay.FileChanges() {
		switch ch.Type {
		case overlay.ChangeAdded:
			paths[ch.Path] = 'A'
		case overlay.ChangeModified:
			paths[ch.Path] = 'M'
		case overlay.ChangeDeleted:
			delete(paths, ch.Path)
			fmt.Printf("D %s\n", ch.Path)
		}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	if len(sorted) == 0 {
		fmt.Println("(empty)")
		return nil
	}
	for _, p := range sorted {
		fmt.Printf("%c %s\n", paths[p], p)
	}
	return nil
}

func printChanges(changes []overlay.Change) {
	if len(changes) == 0 {
		fmt.Println("(no pending changes)")
		return
	}
	for i, ch := range changes {
		fmt.Printf("  %d. %-8s %s\n", i+1, ch.Type, ch.Path)
	}
}

// resolveChanges maps "approve 2" or "reject all" onto the numbered
// listing printed by the changes command.
func resolveChanges(application *app, parts []string, verb string, apply func([]overlay.Change) error) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: %s <n|all>", strings.ToLower(parts[0]))
	}
	changes := application.overlay.FileChanges()
	if len(changes) == 0 {
		return fmt.Errorf("no pending changes")
	}

	if strings.EqualFold(parts[1], "all") {
		if err := apply(changes); err != nil {
			return err
		}
		fmt.Printf("%s %d change(s)\n", verb, len(changes))
		return nil
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 || n > len(changes) {
		return fmt.Errorf("change number must be 1..%d", len(changes))
	}
	if err := apply(changes[n-1 : n]); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", verb, changes[n-1].Path)
	return nil
}
