// authctl is a smoke/operator tool for the session subsystem: it logs in
// against a live backend, persists the token pair in the configured store and
// answers session and permission queries from follow-up invocations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/moneykeeper/authkit/internal/config"
	"github.com/moneykeeper/authkit/internal/obs"
	"github.com/moneykeeper/authkit/internal/session"
	"github.com/moneykeeper/authkit/internal/token"
)

func main() {
	cfgPath := flag.String("config", "", "path to authkit.yaml (optional)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Store.Backend == "file" && cfg.Store.FilePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			log.Fatalf("resolve config dir: %v", err)
		}
		cfg.Store.FilePath = filepath.Join(dir, "authkit", "tokens.json")
	}

	logger, err := obs.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kit, err := session.NewKit(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("assemble session kit: %v", err)
	}
	defer kit.Close()

	switch cmd := args[0]; cmd {
	case "login":
		runLogin(ctx, kit, args[1:])
	case "logout":
		if err := kit.Gateway.Logout(); err != nil {
			log.Fatalf("logout: %v", err)
		}
		fmt.Println("logged out")
	case "whoami":
		runWhoami(ctx, kit)
	case "can":
		runCan(ctx, kit, args[1:])
	case "refresh":
		pair, err := kit.Refresher.Refresh(ctx)
		if err != nil {
			log.Fatalf("refresh: %v", err)
		}
		fmt.Printf("access token refreshed (%s)\n", obs.RedactToken(pair.Access))
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func runLogin(ctx context.Context, kit *session.Kit, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password (falls back to AUTHKIT_PASSWORD)")
	_ = fs.Parse(args)

	if *password == "" {
		*password = os.Getenv("AUTHKIT_PASSWORD")
	}
	if *username == "" || *password == "" {
		log.Fatal("login requires -u and -p (or AUTHKIT_PASSWORD)")
	}

	s, err := kit.Gateway.Login(ctx, *username, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	fmt.Printf("logged in as %s (user %d, role %s), %d permissions\n",
		s.Username, s.UserID, s.Role.Name, len(s.Permissions))
}

func runWhoami(ctx context.Context, kit *session.Kit) {
	access := kit.Store.AccessToken()
	if access == "" {
		log.Fatal("no session: run authctl login first")
	}
	if payload, err := token.Decode(access); err == nil {
		fmt.Printf("token subject: user %d (%s), expires %s\n",
			payload.UserID, payload.Username, payload.ExpiresAt.Format(time.RFC3339))
	}

	s, err := kit.Gateway.Refresh(ctx)
	if err != nil {
		log.Fatalf("fetch profile: %v", err)
	}
	fmt.Printf("profile: %s <%s>, role %s\n", s.Username, s.Email, s.Role.Name)

	codes := kit.Cache.Codes()
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("  - %s\n", code)
	}
}

func runCan(ctx context.Context, kit *session.Kit, args []string) {
	if len(args) == 0 {
		log.Fatal("usage: authctl can <permission_code>")
	}
	if _, err := kit.Gateway.Refresh(ctx); err != nil {
		log.Fatalf("fetch profile: %v", err)
	}
	code := args[0]
	if kit.Cache.Has(code) {
		fmt.Printf("yes: %s\n", code)
		return
	}
	fmt.Printf("no: %s\n", code)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: authctl [-config path] <command>

commands:
  login -u USER -p PASS   authenticate and persist the token pair
  logout                  clear the persisted session
  whoami                  show the current session and its permissions
  can PERM                check a permission code (exit 1 when denied)
  refresh                 force an access token refresh
`)
}
