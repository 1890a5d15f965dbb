package bullpen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"

	_ "modernc.org/sqlite"
)

const (
	maxStoreBytes  int64   = 256 << 20 // 256 MiB
	evictPct       float64 = 0.10      // evict oldest 10% of rows
	vacuumInterval         = 10        // incremental vacuum every N evictions
	sizeCheckEvery         = 500       // refresh db size every N inserts
)

// AppearanceStore persists relief-appearance records in a FIFO SQLite
// database. Oldest rows are evicted when the size budget is exceeded —
// the rater only ever looks back a couple of weeks, so old appearances
// are dead weight.
type AppearanceStore struct {
	db           *sql.DB
	mu           sync.Mutex
	cachedSize   int64
	rowCount     int64
	evictCounter int
}

func OpenAppearanceStore(path string) (*AppearanceStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create appearance store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA auto_vacuum = INCREMENTAL`,
		`CREATE TABLE IF NOT EXISTS relief_appearances (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			date      TEXT    NOT NULL,
			team      TEXT    NOT NULL,
			is_relief INTEGER NOT NULL DEFAULT 1,
			bf        INTEGER NOT NULL DEFAULT 0,
			k         INTEGER NOT NULL DEFAULT 0,
			bb        INTEGER NOT NULL DEFAULT 0,
			h         INTEGER NOT NULL DEFAULT 0,
			hr        INTEGER NOT NULL DEFAULT 0,
			ip_outs   INTEGER NOT NULL DEFAULT 0,
			inserted  TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ra_date ON relief_appearances(date)`,
		`CREATE INDEX IF NOT EXISTS idx_ra_team_date ON relief_appearances(team, date)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema (%s): %w", stmt, err)
		}
	}

	var size int64
	row := db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&size); err != nil {
		db.Close()
		return nil, fmt.Errorf("read db size: %w", err)
	}

	var count int64
	row = db.QueryRow(`SELECT COUNT(*) FROM relief_appearances`)
	if err := row.Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("read row count: %w", err)
	}

	telemetry.Plainf("appearance store: opened %s  db_bytes=%d  rows=%d", path, size, count)

	return &AppearanceStore{db: db, cachedSize: size, rowCount: count}, nil
}

func (s *AppearanceStore) Insert(a events.ReliefAppearance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO relief_appearances (date, team, is_relief, bf, k, bb, h, hr, ip_outs, inserted)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.Date,
		a.Team,
		boolToInt(a.IsRelief),
		a.BF,
		a.K,
		a.BB,
		a.H,
		a.HR,
		a.IPOuts,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appearance insert: %w", err)
	}

	s.rowCount++
	if s.rowCount%sizeCheckEvery == 0 {
		s.refreshSize()
		if s.cachedSize > maxStoreBytes {
			s.evict()
		}
	}
	return nil
}

// QueryWindow returns relief appearances dated in (endDate-lookbackDays,
// endDate], oldest first. endDate is YYYY-MM-DD.
func (s *AppearanceStore) QueryWindow(endDate string, lookbackDays int) ([]events.ReliefAppearance, error) {
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("appearance query: bad date %q: %w", endDate, err)
	}
	start := end.AddDate(0, 0, -lookbackDays).Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT date, team, is_relief, bf, k, bb, h, hr, ip_outs
		 FROM relief_appearances
		 WHERE is_relief = 1 AND date > ? AND date <= ?
		 ORDER BY date ASC`,
		start, endDate,
	)
	if err != nil {
		return nil, fmt.Errorf("appearance query: %w", err)
	}
	defer rows.Close()

	var out []events.ReliefAppearance
	for rows.Next() {
		var a events.ReliefAppearance
		var isRelief int
		if err := rows.Scan(&a.Date, &a.Team, &isRelief, &a.BF, &a.K, &a.BB, &a.H, &a.HR, &a.IPOuts); err != nil {
			return nil, fmt.Errorf("appearance scan: %w", err)
		}
		a.IsRelief = isRelief != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AppearanceStore) refreshSize() {
	var size int64
	row := s.db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&size); err == nil {
		s.cachedSize = size
	}
}

func (s *AppearanceStore) evict() {
	toDelete := int64(float64(s.rowCount) * evictPct)
	if toDelete < 1 {
		toDelete = 1
	}

	res, err := s.db.Exec(
		`DELETE FROM relief_appearances WHERE id IN (
			SELECT id FROM relief_appearances ORDER BY id ASC LIMIT ?
		)`, toDelete,
	)
	if err != nil {
		telemetry.Warnf("appearance store evict: %v", err)
		return
	}

	deleted, _ := res.RowsAffected()
	s.rowCount -= deleted
	s.evictCounter++

	telemetry.Infof("appearance store: evicted %d rows (target %d)", deleted, toDelete)

	if s.evictCounter%vacuumInterval == 0 {
		s.db.Exec(`PRAGMA incremental_vacuum`)
	}

	s.refreshSize()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *AppearanceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
