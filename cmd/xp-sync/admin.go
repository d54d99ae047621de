package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/elena/xp/internal/api"
	"github.com/elena/xp/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-user":
		runAdminCreateUser(args[1:])
	case "create-key":
		runAdminCreateKey(args[1:])
	case "users":
		runAdminUsers(args[1:])
	case "ledgers":
		runAdminLedgers(args[1:])
	case "cursors":
		runAdminCursors(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: xp-sync admin <command> [flags]

Commands:
  create-user  Register a user without going through device auth
  create-key   Create an API key for a user
  users        List registered users
  ledgers      List a user's ledgers
  cursors      Show device sync cursors for a ledger`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg := api.LoadConfig()
		dbPath = cfg.ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runAdminCreateUser(args []string) {
	fs := flag.NewFlagSet("admin create-user", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	dbPath := fs.String("db", "", "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)")
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.CreateUser(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created user %s\n", user.Email)
	fmt.Printf("  id: %s\n", user.ID)
}

func runAdminCreateKey(args []string) {
	fs := flag.NewFlagSet("admin create-key", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "", "key name (e.g. laptop)")
	scopes := fs.String("scopes", "sync", "comma-separated scopes")
	expiresDays := fs.Int("expires-days", 0, "days until the key expires (0 = never)")
	dbPath := fs.String("db", "", "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)")
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.GetUserByEmail(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if user == nil {
		fmt.Fprintf(os.Stderr, "error: user not found: %s\n", *email)
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *expiresDays > 0 {
		t := time.Now().UTC().Add(time.Duration(*expiresDays) * 24 * time.Hour)
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(user.ID, *name, *scopes, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created API key for %s\n", user.Email)
	fmt.Printf("  name:   %s\n", ak.Name)
	fmt.Printf("  scopes: %s\n", ak.Scopes)
	if ak.ExpiresAt != nil {
		fmt.Printf("  expires: %s\n", ak.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("  key:    %s\n", plaintext)
	fmt.Println("\nSave this key now -- it will not be shown again.")
}

func runAdminUsers(args []string) {
	fs := flag.NewFlagSet("admin users", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)")
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(users) == 0 {
		fmt.Println("no users")
		return
	}
	for _, u := range users {
		verified := "unverified"
		if u.EmailVerifiedAt != nil {
			verified = "verified"
		}
		fmt.Printf("%s  %s  %s  %s\n", u.ID, u.Email, u.CreatedAt.Format("2006-01-02"), verified)
	}
}

func runAdminLedgers(args []string) {
	fs := flag.NewFlagSet("admin ledgers", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	dbPath := fs.String("db", "", "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)")
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.GetUserByEmail(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if user == nil {
		fmt.Fprintf(os.Stderr, "error: user not found: %s\n", *email)
		os.Exit(1)
	}

	ledgers, err := store.ListLedgersForUser(user.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(ledgers) == 0 {
		fmt.Printf("no ledgers for %s\n", user.Email)
		return
	}
	for _, l := range ledgers {
		fmt.Printf("%s  %s  created %s\n", l.ID, l.Name, l.CreatedAt.Format("2006-01-02"))
	}
}

func runAdminCursors(args []string) {
	fs := flag.NewFlagSet("admin cursors", flag.ExitOnError)
	ledgerID := fs.String("ledger", "", "ledger id")
	dbPath := fs.String("db", "", "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)")
	fs.Parse(args)

	if *ledgerID == "" {
		fmt.Fprintln(os.Stderr, "error: --ledger is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	cursors, err := store.ListSyncCursors(*ledgerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(cursors) == 0 {
		fmt.Println("no sync cursors")
		return
	}
	for _, c := range cursors {
		lastSync := "never"
		if c.LastSyncAt != nil {
			lastSync = c.LastSyncAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  seq %d  last sync %s\n", c.DeviceID, c.LastServerSeq, lastSync)
	}
}
