package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/overlay"
	"github.com/codewithcheese/agent-sandbox-sub001/pkg/store"
	"github.com/codewithcheese/agent-sandbox-sub001/pkg/vault"
)

type app struct {
	vault    *vault.DirVault
	overlay  *overlay.Overlay
	sessions *store.SessionStore
	session  string
	log      *zap.Logger
}

type config struct {
	VaultRoot string `yaml:"vault_root"`
	DataDir   string `yaml:"data_dir"`
	Session   string `yaml:"session"`
	LogLevel  string `yaml:"log_level"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	vaultRoot := flag.String("vault", ".", "vault root directory the overlay shadows")
	dataDir := flag.String("data", "./overlay-data", "session database directory")
	session := flag.String("session", "default", "session id to load on start")
	configPath := flag.String("config", "", "optional YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := config{
		VaultRoot: *vaultRoot,
		DataDir:   *dataDir,
		Session:   *session,
		LogLevel:  "info",
	}
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
		// Flags passed explicitly override the file.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "vault":
				cfg.VaultRoot = *vaultRoot
			case "data":
				cfg.DataDir = *dataDir
			case "session":
				cfg.Session = *session
			}
		})
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := zap.NewNop()
	if cfg.LogLevel == "debug" {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	v, err := vault.NewDirVault(cfg.VaultRoot)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	kv, err := store.NewBadgerStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer kv.Close()

	sessions := store.NewSessionStore(kv, store.WithSessionLogger(logger))

	ov, err := sessions.Load(cfg.Session, v, overlay.WithLogger(logger))
	if errors.Is(err, store.ErrSessionNotFound) {
		ov, err = overlay.New(v, overlay.WithLogger(logger))
	}
	if err != nil {
		return err
	}

	application := &app{
		vault:    v,
		overlay:  ov,
		sessions: sessions,
		session:  cfg.Session,
		log:      logger,
	}

	printBanner(application)
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := handleCommand(application, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if quit {
			break
		}
	}

	return scanner.Err()
}

func printBanner(application *app) {
	fmt.Println("agent sandbox overlay demo")
	fmt.Printf("vault:    %s\n", application.vault.Root())
	fmt.Printf("session:  %s\n", application.session)
	if n := len(application.overlay.FileChanges()); n > 0 {
		fmt.Printf("restored %d pending change(s)\n", n)
	}
}

func printHelp() {
	fmt.Println("\ncommands:")
	fmt.Println("  help")
	fmt.Println("  ls                     list files (staging view, A/M/D markers)")
	fmt.Println("  cat <path>             print a file as staging sees it")
	fmt.Println("  write <path> <text>    create or modify a file in staging")
	fmt.Println("  mkdir <path>           create a folder in staging")
	fmt.Println("  rm <path>              delete a file or empty folder in staging")
	fmt.Println("  mv <src> <dst>         rename or move in staging")
	fmt.Println("  changes                list pending changes")
	fmt.Println("  approve <n|all>        promote change(s) into master")
	fmt.Println("  reject <n|all>         discard change(s) from staging")
	fmt.Println("  sync <path>            pull the file's on-disk state into master")
	fmt.Println("  save [id]              persist the session")
	fmt.Println("  load [id]              restore a saved session")
	fmt.Println("  sessions               list saved sessions")
	fmt.Println("  stat                   show session state")
	fmt.Println("  quit")
}
