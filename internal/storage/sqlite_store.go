// Package storage provides a reference AcquisitionStore (component C13)
// backed by SQLite. It deliberately imports only database/sql and the
// sqlite driver, not anything from internal/datalog's sibling packages, so
// a deployment can swap it out from cmd/scrutinyd without touching the
// device core.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/sqlite"

	"github.com/scrutinydebugger/scrutiny-core/internal/datalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS acquisitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	acquisition_id INTEGER NOT NULL,
	config_id INTEGER NOT NULL,
	reference_id TEXT NOT NULL DEFAULT '',
	firmware_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	trigger_index INTEGER NULL,
	point_count INTEGER NOT NULL DEFAULT 0,
	captured_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dataseries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	acquisition_row_id INTEGER NOT NULL REFERENCES acquisitions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	name TEXT NOT NULL,
	is_xdata INTEGER NOT NULL DEFAULT 0,
	axis_id INTEGER NULL,
	axis_name TEXT NULL,
	values_json TEXT NOT NULL
);
`

// SQLiteStore implements datalog.AcquisitionStore on top of a SQLite file,
// grounded on the acquisitions/dataseries table split of the original
// datalogging storage layer, with the X-axis series stored as just
// another dataseries row flagged is_xdata, mirroring the original's
// `x_axis` foreign key onto its own series table.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed acquisition store at
// path, applying the schema if it hasn't been applied yet.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements datalog.AcquisitionStore.
func (s *SQLiteStore) Save(acq *datalog.Acquisition) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	var triggerIndex sql.NullInt64
	if acq.TriggerIndex != nil {
		triggerIndex = sql.NullInt64{Int64: int64(*acq.TriggerIndex), Valid: true}
	}
	var capturedAt sql.NullTime
	if !acq.CapturedAt.IsZero() {
		capturedAt = sql.NullTime{Time: acq.CapturedAt, Valid: true}
	}

	res, err := tx.Exec(
		`INSERT INTO acquisitions (acquisition_id, config_id, reference_id, firmware_id, name, trigger_index, point_count, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acq.AcquisitionID, acq.ConfigID, acq.ReferenceID, acq.FirmwareID, acq.Name, triggerIndex, len(acq.XData.Values), capturedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert acquisition: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: last insert id: %w", err)
	}

	xData, err := json.Marshal(acq.XData.Values)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal x-axis series %q: %w", acq.XData.Name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO dataseries (acquisition_row_id, seq, name, is_xdata, axis_id, axis_name, values_json) VALUES (?, ?, ?, 1, NULL, NULL, ?)`,
		rowID, 0, acq.XData.Name, string(xData),
	); err != nil {
		return 0, fmt.Errorf("storage: insert x-axis series %q: %w", acq.XData.Name, err)
	}

	for i, y := range acq.YData {
		data, err := json.Marshal(y.Series.Values)
		if err != nil {
			return 0, fmt.Errorf("storage: marshal series %q: %w", y.Series.Name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO dataseries (acquisition_row_id, seq, name, is_xdata, axis_id, axis_name, values_json) VALUES (?, ?, ?, 0, ?, ?, ?)`,
			rowID, i+1, y.Series.Name, y.Axis.ID, y.Axis.Name, string(data),
		); err != nil {
			return 0, fmt.Errorf("storage: insert series %q: %w", y.Series.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit: %w", err)
	}
	return rowID, nil
}

// Get implements datalog.AcquisitionStore.
func (s *SQLiteStore) Get(id int64) (*datalog.Acquisition, error) {
	row := s.db.QueryRow(
		`SELECT acquisition_id, config_id, reference_id, firmware_id, name, trigger_index, captured_at
		 FROM acquisitions WHERE id = ?`, id)
	acq := &datalog.Acquisition{}
	var triggerIndex sql.NullInt64
	var capturedAt sql.NullTime
	if err := row.Scan(&acq.AcquisitionID, &acq.ConfigID, &acq.ReferenceID, &acq.FirmwareID, &acq.Name, &triggerIndex, &capturedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: acquisition %d not found", id)
		}
		return nil, fmt.Errorf("storage: scan acquisition %d: %w", id, err)
	}
	if triggerIndex.Valid {
		idx := int(triggerIndex.Int64)
		acq.TriggerIndex = &idx
	}
	if capturedAt.Valid {
		acq.CapturedAt = capturedAt.Time
	}

	rows, err := s.db.Query(
		`SELECT name, is_xdata, axis_id, axis_name, values_json FROM dataseries WHERE acquisition_row_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: query series for %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, valuesJSON string
		var isXData int
		var axisID sql.NullInt64
		var axisName sql.NullString
		if err := rows.Scan(&name, &isXData, &axisID, &axisName, &valuesJSON); err != nil {
			return nil, fmt.Errorf("storage: scan series for %d: %w", id, err)
		}
		var values []float64
		if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
			return nil, fmt.Errorf("storage: unmarshal series %q: %w", name, err)
		}
		series := datalog.Series{Name: name, Values: values}
		if isXData != 0 {
			acq.XData = series
			continue
		}
		acq.YData = append(acq.YData, datalog.YSeries{
			Series: series,
			Axis:   datalog.AxisDefinition{Name: axisName.String, ID: uint16(axisID.Int64)},
		})
	}
	return acq, rows.Err()
}

// List implements datalog.AcquisitionStore.
func (s *SQLiteStore) List(limit int) ([]datalog.StoredAcquisitionInfo, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.acquisition_id, a.config_id, a.point_count,
		       (SELECT d.name FROM dataseries d WHERE d.acquisition_row_id = a.id AND d.is_xdata = 1 LIMIT 1) AS x_axis_name,
		       (SELECT COUNT(*) FROM dataseries d WHERE d.acquisition_row_id = a.id AND d.is_xdata = 0) AS signal_count
		FROM acquisitions a
		ORDER BY a.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	var out []datalog.StoredAcquisitionInfo
	for rows.Next() {
		var info datalog.StoredAcquisitionInfo
		if err := rows.Scan(&info.ID, &info.AcquisitionID, &info.ConfigID, &info.PointCount, &info.XAxisName, &info.SignalCount); err != nil {
			return nil, fmt.Errorf("storage: scan list row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete implements datalog.AcquisitionStore.
func (s *SQLiteStore) Delete(id int64) error {
	res, err := s.db.Exec(`DELETE FROM acquisitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected for delete %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("storage: acquisition %d not found", id)
	}
	return nil
}

var _ datalog.AcquisitionStore = (*SQLiteStore)(nil)
