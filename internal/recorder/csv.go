package recorder

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"ScalpSentinel/internal/model"
)

const expirationLayout = "2006-01-02"

// CSVLedger appends trades to a CSV file with a fixed header.
type CSVLedger struct {
	mu   sync.Mutex
	path string
}

// NewCSVLedger creates the file and header if missing.
func NewCSVLedger(path string) (*CSVLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	l := &CSVLedger{path: path}
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(model.LedgerColumns); err != nil {
		return nil, err
	}
	w.Flush()
	return l, w.Error()
}

func (l *CSVLedger) Append(_ context.Context, rec model.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(encodeRow(rec)); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *CSVLedger) Records(_ context.Context, since time.Time) ([]model.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(model.LedgerColumns)
	var out []model.TradeRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger line %d: %w", line, err)
		}
		if line == 1 && row[0] == model.LedgerColumns[0] {
			continue
		}
		rec, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *CSVLedger) Close() error { return nil }

func encodeRow(rec model.TradeRecord) []string {
	return []string{
		rec.Timestamp.Format(time.RFC3339),
		rec.Ticker,
		string(rec.Direction),
		formatFloat(rec.Strike),
		rec.Expiration.Format(expirationLayout),
		formatFloat(rec.EntryPrice),
		formatFloat(rec.ExitPrice),
		strconv.Itoa(rec.Contracts),
		strconv.FormatFloat(rec.PnLPct, 'f', 4, 64),
		rec.ExitReason,
	}
}

func decodeRow(row []string) (model.TradeRecord, error) {
	var rec model.TradeRecord
	var err error
	if rec.Timestamp, err = time.Parse(time.RFC3339, row[0]); err != nil {
		return rec, fmt.Errorf("timestamp: %w", err)
	}
	rec.Ticker = row[1]
	if rec.Direction, err = model.ParseDirection(row[2]); err != nil {
		return rec, err
	}
	if rec.Strike, err = strconv.ParseFloat(row[3], 64); err != nil {
		return rec, fmt.Errorf("strike: %w", err)
	}
	if row[4] != "" {
		if rec.Expiration, err = time.Parse(expirationLayout, row[4]); err != nil {
			return rec, fmt.Errorf("expiration: %w", err)
		}
	}
	if rec.EntryPrice, err = strconv.ParseFloat(row[5], 64); err != nil {
		return rec, fmt.Errorf("entry price: %w", err)
	}
	if rec.ExitPrice, err = strconv.ParseFloat(row[6], 64); err != nil {
		return rec, fmt.Errorf("exit price: %w", err)
	}
	if rec.Contracts, err = strconv.Atoi(row[7]); err != nil {
		return rec, fmt.Errorf("contracts: %w", err)
	}
	if rec.PnLPct, err = strconv.ParseFloat(row[8], 64); err != nil {
		return rec, fmt.Errorf("pnl: %w", err)
	}
	rec.ExitReason = row[9]
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
