// Package log provides a zerolog-based logger backed by the node database.
// Events are written as JSON rows into an SQLite file so the management API
// can read them back; before Open (or when opening fails) the logger falls
// back to a console writer.
package log

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var (
	mu        sync.RWMutex
	logger    = consoleLogger()
	store     *dbWriter
	level     = zerolog.InfoLevel
	written   atomic.Int64
	ErrClosed = errors.New("log: store not open, call log.Open first")
)

func consoleLogger() zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).With().Timestamp().Logger()
}

// dbWriter is an io.Writer feeding zerolog JSON lines into SQLite.
type dbWriter struct {
	db   *sql.DB
	stmt *sql.Stmt
	mu   sync.Mutex
}

func openDBWriter(path string) (*dbWriter, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode=wal&_pragma=busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("log: failed to open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("log: failed to ping database %s: %w", path, err)
	}
	const schema = `
    CREATE TABLE IF NOT EXISTS logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        inserted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
        log_data TEXT NOT NULL
    );`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("log: failed to create logs table: %w", err)
	}
	stmt, err := db.Prepare(`INSERT INTO logs (log_data) VALUES (?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("log: failed to prepare insert: %w", err)
	}
	return &dbWriter{db: db, stmt: stmt}, nil
}

func (w *dbWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.stmt.Exec(string(p)); err != nil {
		return 0, err
	}
	written.Add(1)
	return len(p), nil
}

func (w *dbWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	serr := w.stmt.Close()
	derr := w.db.Close()
	if serr != nil {
		return serr
	}
	return derr
}

// Open switches the package logger to the SQLite sink at path. The same file
// serves as the node database given on the command line.
func Open(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if store != nil {
		return fmt.Errorf("log: store already open")
	}
	w, err := openDBWriter(path)
	if err != nil {
		return err
	}
	store = w
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	return nil
}

// Close flushes and detaches the SQLite sink, reverting to console output.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if store == nil {
		return nil
	}
	w := store
	store = nil
	logger = consoleLogger().Level(level)
	return w.close()
}

// SetDebug raises verbosity so per-frame drop events become visible.
func SetDebug(on bool) {
	mu.Lock()
	defer mu.Unlock()
	if on {
		level = zerolog.DebugLevel
	} else {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug() *zerolog.Event { l := current(); return l.Debug() }
func Info() *zerolog.Event  { l := current(); return l.Info() }
func Warn() *zerolog.Event  { l := current(); return l.Warn() }
func Error() *zerolog.Event { l := current(); return l.Error() }
func Fatal() *zerolog.Event { l := current(); return l.Fatal() }

// Printf logs at info level in the manner of fmt.Printf.
func Printf(format string, v ...any) {
	l := current()
	l.Info().Msgf(format, v...)
}

func Fatalf(format string, v ...any) {
	l := current()
	l.Fatal().Msgf(format, v...)
}

// Entry is one stored log row.
type Entry struct {
	ID         int64
	InsertedAt time.Time
	Data       string
}

// LastN returns the most recent n entries in chronological order.
func LastN(n int) ([]Entry, error) {
	mu.RLock()
	w := store
	mu.RUnlock()
	if w == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return []Entry{}, nil
	}
	rows, err := w.db.Query(`SELECT id, inserted_at, log_data FROM logs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("log: failed to query last %d entries: %w", n, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Data); err != nil {
			return nil, fmt.Errorf("log: failed to scan entry: %w", err)
		}
		e.InsertedAt = parseTimestamp(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SinceStart returns every entry written since this process opened the store.
func SinceStart() ([]Entry, error) {
	return LastN(int(written.Load()))
}

func parseTimestamp(ts string) time.Time {
	formats := []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
