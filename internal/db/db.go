package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFile = "spend.db"

// DB wraps the database connection
type DB struct {
	conn       *sql.DB
	dataDir    string
	deviceID   string
	generation string
	memory     bool
}

// Open opens an existing store and runs any pending migrations.
// Fails if the store does not exist; Bootstrap handles creation.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("store not found at %s", dbPath)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, dataDir: dataDir}

	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := db.ensureGeneration(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store generation: %w", err)
	}

	return db, nil
}

// Initialize creates the store and runs migrations
func Initialize(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, dataDir: dataDir}

	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := db.ensureGeneration(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store generation: %w", err)
	}

	return db, nil
}

// OpenMemory creates a store that lives only for this process.
// Used as the last bootstrap fallback when no directory is writable.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	// A memory database exists per connection; the pool must never
	// hand out a second one.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, memory: true}

	if err := db.setSchemaVersionInternal(SchemaVersion); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set schema version: %w", err)
	}

	if err := db.ensureGeneration(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store generation: %w", err)
	}

	return db, nil
}

// OpenMemoryMinimal creates an in-memory store with the minimal schema.
// Last rung of the bootstrap ladder: recording a spend must always work.
func OpenMemoryMinimal() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(minimalSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create minimal schema: %w", err)
	}

	db := &DB{conn: conn, memory: true}

	if err := db.ensureGeneration(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store generation: %w", err)
	}

	return db, nil
}

// openConn opens a SQLite connection with the standard pragmas.
func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout as fallback protection (500ms, matches lock timeout)
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// DataDir returns the data directory for the store. Empty for memory stores.
func (db *DB) DataDir() string {
	return db.dataDir
}

// InMemory reports whether this store lives only for the process.
func (db *DB) InMemory() bool {
	return db.memory
}

// Conn returns the underlying *sql.DB connection for use in transactions
// (e.g., by the sync engine which needs raw DB access).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// SetDeviceID sets the device identity stamped on local writes (updated_by).
func (db *DB) SetDeviceID(id string) {
	db.deviceID = id
}

// DeviceID returns the device identity for local writes.
func (db *DB) DeviceID() string {
	return db.deviceID
}

// Generation returns the store generation, a random ID minted when the store
// was created. A recreated store gets a new generation, so re-used action_log
// rowids never collide with already-pushed (device, session, action) tuples.
func (db *DB) Generation() string {
	return db.generation
}

// ensureGeneration loads the store generation, minting one if missing.
func (db *DB) ensureGeneration() error {
	var gen string
	err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'store_generation'`).Scan(&gen)
	if err == nil && gen != "" {
		db.generation = gen
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	gen, err = generateGenerationID()
	if err != nil {
		return err
	}
	if _, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('store_generation', ?)`, gen); err != nil {
		return err
	}
	db.generation = gen
	return nil
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes.
// Memory stores are process-private, so no lock is needed.
func (db *DB) withWriteLock(fn func() error) error {
	if db.memory {
		return fn()
	}
	locker := newWriteLocker(db.dataDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s);", table)
	rows, err := db.conn.Query(query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}

	return false, rows.Err()
}

// tableExists checks whether a table exists in the database
func (db *DB) tableExists(table string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		// No version set, assume version 0 (pre-migration)
		return 0, nil
	}
	if err != nil {
		// Table might not exist yet
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

// SetSchemaVersion sets the schema version in the database
func (db *DB) SetSchemaVersion(version int) error {
	return db.withWriteLock(func() error {
		return db.setSchemaVersionInternal(version)
	})
}

// setSchemaVersionInternal sets schema version without acquiring lock (for use during init)
func (db *DB) setSchemaVersionInternal(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// RunMigrations runs any pending database migrations
func (db *DB) RunMigrations() (int, error) {
	// Quick check without lock - if already at current version, skip
	currentVersion, _ := db.GetSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	// Need to run migrations - acquire lock
	var migrationsRun int
	err := db.withWriteLock(func() error {
		var err error
		migrationsRun, err = db.runMigrationsInternal()
		return err
	})
	return migrationsRun, err
}

// runMigrationsInternal runs migrations without acquiring lock (for use during init)
func (db *DB) runMigrationsInternal() (int, error) {
	// Ensure schema_info table exists
	_, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	if err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	migrationsRun := 0
	for _, migration := range Migrations {
		if migration.Version > currentVersion {
			if migration.Version == 2 {
				if err := db.migrateSyncColumns(); err != nil {
					return migrationsRun, fmt.Errorf("migration 2 (sync columns): %w", err)
				}
				if err := db.setSchemaVersionInternal(migration.Version); err != nil {
					return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
				}
				migrationsRun++
				continue
			}
			if _, err := db.conn.Exec(migration.SQL); err != nil {
				return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
			}
			if err := db.setSchemaVersionInternal(migration.Version); err != nil {
				return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
			}
			migrationsRun++
		}
	}

	// If no migrations and version is 0, set to current schema version
	if currentVersion == 0 {
		if err := db.setSchemaVersionInternal(SchemaVersion); err != nil {
			return migrationsRun, err
		}
	}

	return migrationsRun, nil
}

// migrateSyncColumns creates the replication state tables and adds the sync
// columns to action_log (idempotent: safe on stores created from the full schema).
func (db *DB) migrateSyncColumns() error {
	_, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS sync_state (
		ledger_id TEXT PRIMARY KEY,
		last_pushed_action_id INTEGER DEFAULT 0,
		last_pulled_server_seq INTEGER DEFAULT 0,
		last_sync_at DATETIME,
		sync_disabled INTEGER DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("create sync_state: %w", err)
	}

	_, err = db.conn.Exec(`CREATE TABLE IF NOT EXISTS sync_conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		server_seq INTEGER DEFAULT 0,
		local_data TEXT,
		remote_data TEXT,
		merged_data TEXT,
		resolution TEXT DEFAULT '',
		resolved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create sync_conflicts: %w", err)
	}

	hasSyncedAt, err := db.columnExists("action_log", "synced_at")
	if err != nil {
		return fmt.Errorf("check synced_at: %w", err)
	}
	if !hasSyncedAt {
		if _, err := db.conn.Exec(`ALTER TABLE action_log ADD COLUMN synced_at DATETIME`); err != nil {
			return fmt.Errorf("add synced_at: %w", err)
		}
	}

	hasServerSeq, err := db.columnExists("action_log", "server_seq")
	if err != nil {
		return fmt.Errorf("check server_seq: %w", err)
	}
	if !hasServerSeq {
		if _, err := db.conn.Exec(`ALTER TABLE action_log ADD COLUMN server_seq INTEGER`); err != nil {
			return fmt.Errorf("add server_seq: %w", err)
		}
	}

	return nil
}
