package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Store modes reported by Bootstrap.
const (
	StorePersistent    = "persistent"     // existing store opened in place
	StoreCreated       = "created"        // fresh store initialized in place
	StoreRecreated     = "recreated"      // corrupt store set aside, fresh one in place
	StoreMemory        = "memory"         // in-process only, nothing persists
	StoreMemoryMinimal = "memory-minimal" // in-process, expenses only
)

// BootstrapOptions configures store bootstrap.
type BootstrapOptions struct {
	Dir       string // explicit data dir override (--dir flag)
	DeviceID  string // stamped on local writes as updated_by
	Replicate bool   // whether the store should come up replicating
}

// StoreAttempt records one failed bootstrap strategy.
type StoreAttempt struct {
	Strategy string
	Err      error
}

// Handle is the result of Bootstrap: an open store plus a report of how it
// was obtained. Degraded stores never replicate, so a throwaway database
// cannot push events into the shared ledger.
type Handle struct {
	DB         *DB
	Mode       string
	Strategy   string // name of the strategy that produced the store
	Dir        string // empty for memory stores
	Replicated bool
	Degraded   bool
	Attempts   []StoreAttempt
}

// RestartRequired reports whether the replication preference has drifted from
// the mode this store was opened in. The store's mode is fixed for the
// process lifetime; the caller should hint at a restart, not flip modes live.
func (h *Handle) RestartRequired(shouldReplicate bool) bool {
	return !h.Degraded && shouldReplicate != h.Replicated
}

// storeStrategy is one rung of the bootstrap ladder.
type storeStrategy struct {
	name string
	skip func(opts BootstrapOptions) bool
	run  func(opts BootstrapOptions, dir string, dirErr error) (*strategyResult, error)
}

type strategyResult struct {
	db         *DB
	mode       string
	dir        string
	replicated bool
}

// Bootstrap opens a store, walking an ordered strategy ladder until one
// succeeds:
//
//  1. durable store with replication bookkeeping (skipped unless requested)
//  2. durable store, local-only
//  3. corrupt durable store set aside, fresh one in place (local-only)
//  4. in-memory store, full schema
//  5. in-memory store, minimal schema
//
// It never returns an error; the CLI must always be able to record a spend.
// Failed strategies are logged and reported on the handle.
func Bootstrap(opts BootstrapOptions) *Handle {
	return runStrategies(opts, defaultStrategies())
}

func defaultStrategies() []storeStrategy {
	return []storeStrategy{
		{
			name: "durable+sync",
			skip: func(opts BootstrapOptions) bool { return !opts.Replicate },
			run: func(opts BootstrapOptions, dir string, dirErr error) (*strategyResult, error) {
				d, mode, err := openDurable(dir, dirErr)
				if err != nil {
					return nil, err
				}
				if err := verifySyncBookkeeping(d); err != nil {
					d.Close()
					return nil, err
				}
				return &strategyResult{db: d, mode: mode, dir: dir, replicated: true}, nil
			},
		},
		{
			name: "durable",
			run: func(opts BootstrapOptions, dir string, dirErr error) (*strategyResult, error) {
				d, mode, err := openDurable(dir, dirErr)
				if err != nil {
					return nil, err
				}
				return &strategyResult{db: d, mode: mode, dir: dir}, nil
			},
		},
		{
			name: "recreate",
			run: func(opts BootstrapOptions, dir string, dirErr error) (*strategyResult, error) {
				if dirErr != nil {
					return nil, dirErr
				}
				if _, err := os.Stat(StorePath(dir)); err != nil {
					return nil, fmt.Errorf("no store file to recreate: %w", err)
				}
				// Only replace a store that is actually unreadable. An
				// open failure on a healthy file (held lock, migration
				// error) must not destroy user data.
				if storeHealthy(dir) {
					return nil, fmt.Errorf("store at %s passes integrity check, refusing to replace it", dir)
				}
				if err := setAsideCorrupt(dir); err != nil {
					return nil, err
				}
				d, err := Initialize(dir)
				if err != nil {
					return nil, err
				}
				slog.Warn("store was unreadable and has been recreated, previous file kept alongside", "dir", dir)
				return &strategyResult{db: d, mode: StoreRecreated, dir: dir}, nil
			},
		},
		{
			name: "memory",
			run: func(opts BootstrapOptions, dir string, dirErr error) (*strategyResult, error) {
				d, err := OpenMemory()
				if err != nil {
					return nil, err
				}
				slog.Warn("using in-memory store, data will not survive this process")
				return &strategyResult{db: d, mode: StoreMemory}, nil
			},
		},
		{
			name: "memory-minimal",
			run: func(opts BootstrapOptions, dir string, dirErr error) (*strategyResult, error) {
				d, err := OpenMemoryMinimal()
				if err != nil {
					return nil, err
				}
				slog.Warn("using minimal in-memory store, only plain expenses are available")
				return &strategyResult{db: d, mode: StoreMemoryMinimal}, nil
			},
		},
	}
}

func runStrategies(opts BootstrapOptions, strategies []storeStrategy) *Handle {
	h := &Handle{}
	dir, dirErr := ResolveDataDir(opts.Dir)

	for _, s := range strategies {
		if s.skip != nil && s.skip(opts) {
			continue
		}
		res, err := s.run(opts, dir, dirErr)
		if err != nil {
			h.attempt(s.name, err)
			continue
		}
		return h.adopt(res, s.name, opts)
	}

	// Unreachable short of a broken SQLite driver: the minimal memory
	// strategy has nothing left to fail on.
	panic(fmt.Sprintf("no store strategy succeeded: %v", h.Attempts))
}

func (h *Handle) adopt(res *strategyResult, strategy string, opts BootstrapOptions) *Handle {
	res.db.SetDeviceID(opts.DeviceID)
	h.DB = res.db
	h.Mode = res.mode
	h.Strategy = strategy
	h.Dir = res.dir
	h.Degraded = res.mode == StoreMemory || res.mode == StoreMemoryMinimal
	h.Replicated = res.replicated && !h.Degraded
	return h
}

func (h *Handle) attempt(strategy string, err error) {
	h.Attempts = append(h.Attempts, StoreAttempt{Strategy: strategy, Err: err})
	slog.Warn("store bootstrap strategy failed", "strategy", strategy, "error", err)
}

// openDurable opens the store at dir, creating it if the file is missing.
func openDurable(dir string, dirErr error) (*DB, string, error) {
	if dirErr != nil {
		return nil, "", dirErr
	}
	if _, err := os.Stat(StorePath(dir)); os.IsNotExist(err) {
		d, err := Initialize(dir)
		return d, StoreCreated, err
	}
	d, err := Open(dir)
	return d, StorePersistent, err
}

// verifySyncBookkeeping checks that the replication tables and columns a
// syncing store depends on actually exist after migrations.
func verifySyncBookkeeping(d *DB) error {
	ok, err := d.tableExists("sync_state")
	if err != nil {
		return fmt.Errorf("check sync_state: %w", err)
	}
	if !ok {
		return fmt.Errorf("sync_state table missing")
	}
	ok, err = d.columnExists("action_log", "synced_at")
	if err != nil {
		return fmt.Errorf("check action_log.synced_at: %w", err)
	}
	if !ok {
		return fmt.Errorf("action_log.synced_at column missing")
	}
	return nil
}

// storeHealthy runs a bare integrity check against the store file, outside
// the normal open path (no migrations, no lock).
func storeHealthy(dir string) bool {
	conn, err := sql.Open("sqlite", StorePath(dir))
	if err != nil {
		return false
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

// setAsideCorrupt renames the store file and its WAL sidecars so a fresh
// store can be initialized in place without losing the corrupt bytes.
func setAsideCorrupt(dir string) error {
	ts := time.Now().Format("20060102-150405")
	base := StorePath(dir)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		src := base + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := fmt.Sprintf("%s.corrupt-%s%s", base, ts, suffix)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("set aside %s: %w", src, err)
		}
	}
	return nil
}
