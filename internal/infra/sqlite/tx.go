package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tutu-network/poco/internal/domain"
)

var errReadOnly = errors.New("sqlite: write in read-only view")

// tx implements domain.Tx over one SQL transaction.
type tx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *tx) exec(query string, args ...any) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, query, args...)
	return err
}

// ─── Accounts ───────────────────────────────────────────────────────────────

func (t *tx) Account(addr common.Address) (domain.Account, error) {
	a := domain.Account{Address: addr}
	var avail, frozen string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT available, frozen FROM accounts WHERE address = ?`, addr.Hex(),
	).Scan(&avail, &frozen)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return a, fmt.Errorf("query account: %w", err)
	}
	if a.Available, err = parseAmount(avail); err != nil {
		return a, err
	}
	if a.Frozen, err = parseAmount(frozen); err != nil {
		return a, err
	}
	return a, nil
}

func (t *tx) PutAccount(a domain.Account) error {
	return t.exec(
		`INSERT INTO accounts (address, available, frozen) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET available=excluded.available, frozen=excluded.frozen`,
		a.Address.Hex(), formatAmount(a.Available), formatAmount(a.Frozen),
	)
}

func (t *tx) Accounts() ([]domain.Account, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT address, available, frozen FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var addr, avail, frozen string
		if err := rows.Scan(&addr, &avail, &frozen); err != nil {
			return nil, err
		}
		a := domain.Account{Address: common.HexToAddress(addr)}
		if a.Available, err = parseAmount(avail); err != nil {
			return nil, err
		}
		if a.Frozen, err = parseAmount(frozen); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) Supply() (domain.Supply, error) {
	var s domain.Supply
	var dep, wd string
	err := t.tx.QueryRowContext(t.ctx, `SELECT deposited, withdrawn FROM supply WHERE id = 1`).Scan(&dep, &wd)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("query supply: %w", err)
	}
	if s.Deposited, err = parseAmount(dep); err != nil {
		return s, err
	}
	if s.Withdrawn, err = parseAmount(wd); err != nil {
		return s, err
	}
	return s, nil
}

func (t *tx) PutSupply(s domain.Supply) error {
	return t.exec(
		`INSERT INTO supply (id, deposited, withdrawn) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET deposited=excluded.deposited, withdrawn=excluded.withdrawn`,
		formatAmount(s.Deposited), formatAmount(s.Withdrawn),
	)
}

// ─── Orders ─────────────────────────────────────────────────────────────────

func (t *tx) Consumed(h common.Hash) (uint64, error) {
	var v string
	err := t.tx.QueryRowContext(t.ctx, `SELECT consumed FROM consumed WHERE order_hash = ?`, h.Hex()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query consumed: %w", err)
	}
	return parseAmount(v)
}

func (t *tx) SetConsumed(h common.Hash, v uint64) error {
	return t.exec(
		`INSERT INTO consumed (order_hash, consumed) VALUES (?, ?)
		 ON CONFLICT(order_hash) DO UPDATE SET consumed=excluded.consumed`,
		h.Hex(), formatAmount(v),
	)
}

func (t *tx) Presigned(h common.Hash) (common.Address, bool, error) {
	var signer string
	err := t.tx.QueryRowContext(t.ctx, `SELECT signer FROM presigned WHERE order_hash = ?`, h.Hex()).Scan(&signer)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("query presign: %w", err)
	}
	return common.HexToAddress(signer), true, nil
}

func (t *tx) SetPresigned(h common.Hash, signer common.Address) error {
	return t.exec(
		`INSERT INTO presigned (order_hash, signer) VALUES (?, ?)
		 ON CONFLICT(order_hash) DO UPDATE SET signer=excluded.signer`,
		h.Hex(), signer.Hex(),
	)
}

// ─── Deals & Tasks ──────────────────────────────────────────────────────────

func (t *tx) Deal(id common.Hash) (domain.Deal, error) {
	var d domain.Deal
	var record string
	err := t.tx.QueryRowContext(t.ctx, `SELECT record FROM deals WHERE id = ?`, id.Hex()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return d, domain.ErrDealNotFound
	}
	if err != nil {
		return d, fmt.Errorf("query deal: %w", err)
	}
	if err := json.Unmarshal([]byte(record), &d); err != nil {
		return d, fmt.Errorf("decode deal: %w", err)
	}
	return d, nil
}

func (t *tx) PutDeal(d domain.Deal) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deal: %w", err)
	}
	return t.exec(
		`INSERT INTO deals (id, request_hash, bot_first, record) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record=excluded.record`,
		d.ID.Hex(), d.RequestOrderHash.Hex(), formatAmount(d.BotFirst), string(record),
	)
}

func (t *tx) Deals() ([]domain.Deal, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT record FROM deals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var out []domain.Deal
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var d domain.Deal
		if err := json.Unmarshal([]byte(record), &d); err != nil {
			return nil, fmt.Errorf("decode deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *tx) Task(id common.Hash) (domain.Task, bool, error) {
	var task domain.Task
	var record string
	err := t.tx.QueryRowContext(t.ctx, `SELECT record FROM tasks WHERE id = ?`, id.Hex()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return task, false, nil
	}
	if err != nil {
		return task, false, fmt.Errorf("query task: %w", err)
	}
	if err := json.Unmarshal([]byte(record), &task); err != nil {
		return task, false, fmt.Errorf("decode task: %w", err)
	}
	return task, true, nil
}

func (t *tx) PutTask(task domain.Task) error {
	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return t.exec(
		`INSERT INTO tasks (id, deal_id, status, record) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, record=excluded.record`,
		task.ID.Hex(), task.DealID.Hex(), string(task.Status), string(record),
	)
}

// ─── Event Journal ──────────────────────────────────────────────────────────

func (t *tx) AppendEvents(events []domain.Event) error {
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		record, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if err := t.exec(
			`INSERT INTO events (id, kind, time, record) VALUES (?, ?, ?, ?)`,
			e.ID, string(e.Kind), int64(e.Time), string(record),
		); err != nil {
			return fmt.Errorf("journal event: %w", err)
		}
	}
	return nil
}

func (t *tx) Events(offset, limit int) ([]domain.Event, error) {
	if offset < 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT record FROM events ORDER BY seq LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(record), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode amount %q: %w", s, err)
	}
	return v, nil
}
