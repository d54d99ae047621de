package api

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xpsync "github.com/elena/xp/internal/sync"
	_ "modernc.org/sqlite"
)

// LedgerDBPool manages per-ledger SQLite connections for event logs.
type LedgerDBPool struct {
	mu      sync.RWMutex
	dbs     map[string]*sql.DB
	dataDir string
}

// NewLedgerDBPool creates a new pool that stores ledger databases under dataDir.
func NewLedgerDBPool(dataDir string) *LedgerDBPool {
	return &LedgerDBPool{
		dbs:     make(map[string]*sql.DB),
		dataDir: dataDir,
	}
}

// Get returns the database connection for the given ledger, opening it lazily
// and initializing the event log schema if needed.
func (p *LedgerDBPool) Get(ledgerID string) (*sql.DB, error) {
	p.mu.RLock()
	db, ok := p.dbs[ledgerID]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if db, ok := p.dbs[ledgerID]; ok {
		return db, nil
	}

	dbPath := filepath.Join(p.dataDir, ledgerID, "events.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger database not found: %s", ledgerID)
	}

	db, err := openLedgerDB(dbPath)
	if err != nil {
		return nil, err
	}

	p.dbs[ledgerID] = db
	return db, nil
}

// Create creates a new ledger database directory and initializes the event log.
func (p *LedgerDBPool) Create(ledgerID string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// If already created, return existing connection
	if db, ok := p.dbs[ledgerID]; ok {
		return db, nil
	}

	dir := filepath.Join(p.dataDir, ledgerID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	dbPath := filepath.Join(dir, "events.db")
	db, err := openLedgerDB(dbPath)
	if err != nil {
		return nil, err
	}

	p.dbs[ledgerID] = db
	return db, nil
}

// CloseAll closes all open ledger database connections.
func (p *LedgerDBPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, db := range p.dbs {
		db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		db.Close()
		delete(p.dbs, id)
	}
}

// openLedgerDB opens a SQLite connection for a ledger event log with standard pragmas.
func openLedgerDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := xpsync.InitServerEventLog(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event log: %w", err)
	}

	return db, nil
}
