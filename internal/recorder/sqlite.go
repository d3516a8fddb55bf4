package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"ScalpSentinel/internal/model"
)

// SQLiteLedger persists trades to a SQLite database.
type SQLiteLedger struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteLedger opens (or creates) the SQLite database and runs migrations.
func NewSQLiteLedger(dbPath string, log zerolog.Logger) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the status API read while a trade is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	l := &SQLiteLedger{db: db, log: log.With().Str("component", "ledger").Logger()}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	l.log.Info().Str("path", dbPath).Msg("sqlite ledger opened")
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			ticker      TEXT NOT NULL,
			direction   TEXT NOT NULL,
			strike      REAL,
			expiration  TEXT,
			entry_price REAL,
			exit_price  REAL,
			contracts   INTEGER,
			pnl_pct     REAL,
			exit_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,
	}
	for _, s := range stmts {
		if _, err := l.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (l *SQLiteLedger) Append(ctx context.Context, rec model.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `INSERT INTO trades
		(timestamp, ticker, direction, strike, expiration, entry_price, exit_price, contracts, pnl_pct, exit_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.Timestamp.UnixNano(), rec.Ticker, string(rec.Direction), rec.Strike,
		rec.Expiration.Format(expirationLayout), rec.EntryPrice, rec.ExitPrice,
		rec.Contracts, rec.PnLPct, rec.ExitReason,
	)
	return err
}

func (l *SQLiteLedger) Records(ctx context.Context, since time.Time) ([]model.TradeRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT timestamp, ticker, direction, strike, expiration,
		entry_price, exit_price, contracts, pnl_pct, exit_reason
		FROM trades WHERE timestamp >= ? ORDER BY id`, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			rec       model.TradeRecord
			ts        int64
			direction string
			exp       string
		)
		if err := rows.Scan(&ts, &rec.Ticker, &direction, &rec.Strike, &exp,
			&rec.EntryPrice, &rec.ExitPrice, &rec.Contracts, &rec.PnLPct, &rec.ExitReason); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.Direction = model.Direction(direction)
		if exp != "" {
			if rec.Expiration, err = time.Parse(expirationLayout, exp); err != nil {
				return nil, fmt.Errorf("trade expiration %q: %w", exp, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	l.log.Info().Msg("closing sqlite ledger")
	return l.db.Close()
}
