package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"medalert/internal/config"
	"medalert/internal/model"
	"medalert/internal/normalize"
)

// Store persists alerts and the medicine snapshots they are derived from.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	Create(ctx context.Context, fact model.AlertFact) (model.Alert, error)
	CreateIfAbsent(ctx context.Context, fact model.AlertFact) (model.Alert, bool, error)
	FindOpen(ctx context.Context, medicineID string, alertType model.AlertType) (*model.Alert, error)
	Get(ctx context.Context, id string) (model.Alert, error)
	List(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
	MarkRead(ctx context.Context, id string) (model.Alert, error)
	Resolve(ctx context.Context, id string) (model.Alert, error)
	Delete(ctx context.Context, id string) error
	CountOpen(ctx context.Context) (map[model.Priority]int, error)
	Clear(ctx context.Context) error

	UpsertMedicine(ctx context.Context, s model.MedicineSnapshot) error
	GetMedicine(ctx context.Context, id string) (model.MedicineSnapshot, error)
	ListAll(ctx context.Context) ([]model.MedicineSnapshot, error)
	CountByExpiryWindow(ctx context.Context, now time.Time, fromDays, toDays int) (int, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// baseStore holds the SQL shared by both drivers. Queries are written with
// ? placeholders and rebound per driver.
type baseStore struct {
	db       *sql.DB
	numbered bool
	timeArg  func(time.Time) any
	now      func() time.Time
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Ping(ctx context.Context) error {
	return wrapErr(b.db.PingContext(ctx))
}

func (b *baseStore) migrate(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

const alertColumns = `id, title, message, type, priority, medicine_id, details_json, status, is_read, created_at, updated_at`

func (b *baseStore) Create(ctx context.Context, fact model.AlertFact) (model.Alert, error) {
	alert := model.NewAlert(uuid.NewString(), fact, b.now())
	if _, err := b.insertAlert(ctx, alert, ""); err != nil {
		return model.Alert{}, err
	}
	return alert, nil
}

// CreateIfAbsent relies on the partial unique index over open alerts, so
// concurrent scans cannot both insert the same (medicine, type) pair.
func (b *baseStore) CreateIfAbsent(ctx context.Context, fact model.AlertFact) (model.Alert, bool, error) {
	alert := model.NewAlert(uuid.NewString(), fact, b.now())
	n, err := b.insertAlert(ctx, alert, ` ON CONFLICT (medicine_id, type) WHERE status <> 'resolved' DO NOTHING`)
	if err != nil {
		return model.Alert{}, false, err
	}
	if n > 0 {
		return alert, true, nil
	}
	existing, err := b.FindOpen(ctx, fact.MedicineID, fact.Type)
	if err != nil {
		return model.Alert{}, false, err
	}
	if existing == nil {
		return model.Alert{}, false, fmt.Errorf("open alert for %s/%s vanished during insert", fact.MedicineID, fact.Type)
	}
	return *existing, false, nil
}

func (b *baseStore) insertAlert(ctx context.Context, a model.Alert, suffix string) (int64, error) {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+suffix),
		a.ID,
		a.Title,
		a.Message,
		string(a.Type),
		string(a.Priority),
		a.MedicineID,
		string(details),
		string(a.Status),
		a.Read,
		b.timeArg(a.CreatedAt),
		b.timeArg(a.UpdatedAt),
	)
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.RowsAffected()
}

func (b *baseStore) FindOpen(ctx context.Context, medicineID string, alertType model.AlertType) (*model.Alert, error) {
	row := b.db.QueryRowContext(ctx, b.bind(
		`SELECT `+alertColumns+` FROM alerts
		WHERE medicine_id = ? AND type = ? AND status <> 'resolved'
		ORDER BY created_at DESC LIMIT 1`),
		medicineID, string(alertType))
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &a, nil
}

func (b *baseStore) Get(ctx context.Context, id string) (model.Alert, error) {
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`), id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, model.ErrNotFound
	}
	if err != nil {
		return model.Alert{}, wrapErr(err)
	}
	return a, nil
}

func (b *baseStore) List(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.MedicineID != "" {
		where = append(where, "medicine_id = ?")
		args = append(args, filter.MedicineID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.OpenOnly {
		where = append(where, "status <> 'resolved'")
	}
	if filter.Read != nil {
		where = append(where, "is_read = ?")
		args = append(args, *filter.Read)
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}
	rows, err := b.db.QueryContext(ctx, b.bind(query), args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, wrapErr(rows.Err())
}

func (b *baseStore) MarkRead(ctx context.Context, id string) (model.Alert, error) {
	return b.update(ctx, id, `is_read = ?`, true)
}

func (b *baseStore) Resolve(ctx context.Context, id string) (model.Alert, error) {
	return b.update(ctx, id, `status = ?`, string(model.StatusResolved))
}

func (b *baseStore) update(ctx context.Context, id, set string, value any) (model.Alert, error) {
	res, err := b.db.ExecContext(ctx, b.bind(`UPDATE alerts SET `+set+`, updated_at = ? WHERE id = ?`),
		value, b.timeArg(b.now()), id)
	if err != nil {
		return model.Alert{}, wrapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Alert{}, model.ErrNotFound
	}
	return b.Get(ctx, id)
}

func (b *baseStore) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, b.bind(`DELETE FROM alerts WHERE id = ?`), id)
	if err != nil {
		return wrapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (b *baseStore) CountOpen(ctx context.Context) (map[model.Priority]int, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT priority, COUNT(*) FROM alerts WHERE status <> 'resolved' GROUP BY priority`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	out := make(map[model.Priority]int)
	for rows.Next() {
		var (
			p string
			n int
		)
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		out[model.Priority(p)] = n
	}
	return out, wrapErr(rows.Err())
}

// Clear deletes every alert. Medicines are left alone.
func (b *baseStore) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM alerts`)
	return wrapErr(err)
}

const medicineColumns = `id, name, unit, stock, minimum_stock, reorder_level, expiry_date, batch_number, manufacturer, supplier, updated_at`

func (b *baseStore) UpsertMedicine(ctx context.Context, s model.MedicineSnapshot) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("medicine id is required")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = b.now()
	}
	var reorder, expiry any
	if s.ReorderLevel != nil {
		reorder = *s.ReorderLevel
	}
	if s.ExpiryDate != nil {
		expiry = b.timeArg(*s.ExpiryDate)
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO medicines (`+medicineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			stock = excluded.stock,
			minimum_stock = excluded.minimum_stock,
			reorder_level = excluded.reorder_level,
			expiry_date = excluded.expiry_date,
			batch_number = excluded.batch_number,
			manufacturer = excluded.manufacturer,
			supplier = excluded.supplier,
			updated_at = excluded.updated_at`),
		s.ID,
		s.Name,
		s.Unit,
		s.Stock,
		s.MinimumStock,
		reorder,
		expiry,
		s.BatchNumber,
		s.Manufacturer,
		s.Supplier,
		b.timeArg(s.UpdatedAt),
	)
	return wrapErr(err)
}

func (b *baseStore) GetMedicine(ctx context.Context, id string) (model.MedicineSnapshot, error) {
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+medicineColumns+` FROM medicines WHERE id = ?`), id)
	s, err := scanMedicine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MedicineSnapshot{}, model.ErrNotFound
	}
	if err != nil {
		return model.MedicineSnapshot{}, wrapErr(err)
	}
	return s, nil
}

func (b *baseStore) ListAll(ctx context.Context) ([]model.MedicineSnapshot, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+medicineColumns+` FROM medicines ORDER BY id`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []model.MedicineSnapshot
	for rows.Next() {
		s, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, wrapErr(rows.Err())
}

func (b *baseStore) CountByExpiryWindow(ctx context.Context, now time.Time, fromDays, toDays int) (int, error) {
	after := now.Add(time.Duration(fromDays) * 24 * time.Hour)
	until := now.Add(time.Duration(toDays) * 24 * time.Hour)
	var n int
	err := b.db.QueryRowContext(ctx, b.bind(
		`SELECT COUNT(*) FROM medicines
		WHERE expiry_date IS NOT NULL AND expiry_date > ? AND expiry_date <= ?`),
		b.timeArg(after), b.timeArg(until)).Scan(&n)
	return n, wrapErr(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (model.Alert, error) {
	var (
		a                  model.Alert
		typ, prio, status  string
		details            []byte
		createdAt, updated any
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Message, &typ, &prio, &a.MedicineID, &details, &status, &a.Read, &createdAt, &updated); err != nil {
		return model.Alert{}, err
	}
	a.Type = model.AlertType(typ)
	a.Priority = model.Priority(prio)
	a.Status = model.Status(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return model.Alert{}, fmt.Errorf("decode alert %s details: %w", a.ID, err)
		}
	}
	var err error
	if a.CreatedAt, _, err = normalize.DecodeTime(createdAt); err != nil {
		return model.Alert{}, err
	}
	if a.UpdatedAt, _, err = normalize.DecodeTime(updated); err != nil {
		return model.Alert{}, err
	}
	return a, nil
}

func scanMedicine(row rowScanner) (model.MedicineSnapshot, error) {
	var (
		s              model.MedicineSnapshot
		reorder        sql.NullInt64
		expiry, update any
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Unit, &s.Stock, &s.MinimumStock, &reorder, &expiry,
		&s.BatchNumber, &s.Manufacturer, &s.Supplier, &update); err != nil {
		return model.MedicineSnapshot{}, err
	}
	if reorder.Valid {
		level := int(reorder.Int64)
		s.ReorderLevel = &level
	}
	exp, ok, err := normalize.DecodeTime(expiry)
	if err != nil {
		return model.MedicineSnapshot{}, fmt.Errorf("decode medicine %s expiry: %w", s.ID, err)
	}
	if ok {
		s.ExpiryDate = &exp
	}
	if s.UpdatedAt, _, err = normalize.DecodeTime(update); err != nil {
		return model.MedicineSnapshot{}, err
	}
	return s, nil
}

func (b *baseStore) bind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

// wrapErr marks connection-level failures as model.ErrUnavailable so a scan
// aborts instead of failing every remaining item.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
