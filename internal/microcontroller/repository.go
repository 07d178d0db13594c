package microcontroller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/database"
)

// Repository defines microcontroller persistence.
type Repository interface {
	// Get returns the microcontroller with the given MAC.
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, mac string) (device.KnownMicrocontroller, error)

	// List returns all microcontrollers ordered by project and MAC.
	List(ctx context.Context) ([]device.KnownMicrocontroller, error)

	// ListEnabled returns the microcontrollers that are not soft-disabled.
	ListEnabled(ctx context.Context) ([]device.KnownMicrocontroller, error)

	// Register inserts a microcontroller or refreshes the identity fields of
	// an existing one. The device list and enabled flag of an existing record
	// are left untouched.
	Register(ctx context.Context, mc device.KnownMicrocontroller) (device.KnownMicrocontroller, error)

	// Save stores mc if the stored record still has the expected fingerprint
	// and returns the new fingerprint.
	// Returns device.ErrConcurrentModification on a mismatch.
	Save(ctx context.Context, mc device.KnownMicrocontroller, expected device.Fingerprint) (device.Fingerprint, error)

	// SetEnabled soft-enables or soft-disables a microcontroller.
	SetEnabled(ctx context.Context, mac string, enabled bool) error

	// Delete removes a microcontroller.
	// Returns ErrStillReferenced while a project name is set.
	Delete(ctx context.Context, mac string) error
}

// SQLiteRepository implements Repository on the microcontrollers table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT mac, board_type, ip_address, project_name, firmware_version,
		enabled, devices, created_at, updated_at
	FROM microcontrollers`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the microcontroller with the given MAC.
func (r *SQLiteRepository) Get(ctx context.Context, mac string) (device.KnownMicrocontroller, error) {
	mac, err := device.NormalizeMAC(mac)
	if err != nil {
		return device.KnownMicrocontroller{}, err
	}
	return get(ctx, r.db, mac)
}

func get(ctx context.Context, q queryer, mac string) (device.KnownMicrocontroller, error) {
	mc, err := scanMicrocontroller(q.QueryRowContext(ctx, selectColumns+" WHERE mac = ?", mac))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return device.KnownMicrocontroller{}, fmt.Errorf("%w: %s", ErrNotFound, mac)
		}
		return device.KnownMicrocontroller{}, fmt.Errorf("querying microcontroller: %w", err)
	}
	return mc, nil
}

// List returns all microcontrollers.
func (r *SQLiteRepository) List(ctx context.Context) ([]device.KnownMicrocontroller, error) {
	return r.query(ctx, selectColumns+" ORDER BY project_name, mac")
}

// ListEnabled returns the enabled microcontrollers.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]device.KnownMicrocontroller, error) {
	return r.query(ctx, selectColumns+" WHERE enabled = 1 ORDER BY project_name, mac")
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]device.KnownMicrocontroller, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying microcontrollers: %w", err)
	}
	defer rows.Close()

	var out []device.KnownMicrocontroller
	for rows.Next() {
		mc, err := scanMicrocontroller(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning microcontroller: %w", err)
		}
		out = append(out, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating microcontrollers: %w", err)
	}
	return out, nil
}

// Register upserts mc by MAC.
func (r *SQLiteRepository) Register(ctx context.Context, mc device.KnownMicrocontroller) (device.KnownMicrocontroller, error) {
	if err := device.ValidateMicrocontroller(mc); err != nil {
		return device.KnownMicrocontroller{}, err
	}
	mc.MAC, _ = device.NormalizeMAC(mc.MAC) //nolint:errcheck // validated above

	var stored device.KnownMicrocontroller
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		existing, err := get(ctx, tx, mc.MAC)
		switch {
		case errors.Is(err, ErrNotFound):
			stored, err = insert(ctx, tx, mc)
			return err
		case err != nil:
			return err
		}

		existing.BoardType = mc.BoardType
		existing.IPAddress = mc.IPAddress
		existing.ProjectName = mc.ProjectName
		if mc.FirmwareVersion != "" {
			existing.FirmwareVersion = mc.FirmwareVersion
		}
		stored, err = update(ctx, tx, existing)
		return err
	})
	if err != nil {
		return device.KnownMicrocontroller{}, fmt.Errorf("registering microcontroller: %w", err)
	}
	return stored, nil
}

// Save stores mc under the fingerprint guard.
func (r *SQLiteRepository) Save(ctx context.Context, mc device.KnownMicrocontroller, expected device.Fingerprint) (device.Fingerprint, error) {
	if err := device.ValidateMicrocontroller(mc); err != nil {
		return "", err
	}
	mc.MAC, _ = device.NormalizeMAC(mc.MAC) //nolint:errcheck // validated above

	var saved device.KnownMicrocontroller
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := get(ctx, tx, mc.MAC)
		if err != nil {
			return err
		}
		if got := device.FingerprintOf(current); got != expected {
			return fmt.Errorf("%w: %s was saved by someone else", device.ErrConcurrentModification, mc.MAC)
		}
		mc.CreatedAt = current.CreatedAt
		saved, err = update(ctx, tx, mc)
		return err
	})
	if err != nil {
		return "", err
	}
	return device.FingerprintOf(saved), nil
}

// SetEnabled updates the enabled flag.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, mac string, enabled bool) error {
	mac, err := device.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	return database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		mc, err := get(ctx, tx, mac)
		if err != nil {
			return err
		}
		mc.Enabled = enabled
		_, err = update(ctx, tx, mc)
		return err
	})
}

// Delete removes an unreferenced microcontroller.
func (r *SQLiteRepository) Delete(ctx context.Context, mac string) error {
	mac, err := device.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	return database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		mc, err := get(ctx, tx, mac)
		if err != nil {
			return err
		}
		if mc.ProjectName != "" {
			return fmt.Errorf("%w: project %q", ErrStillReferenced, mc.ProjectName)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM microcontrollers WHERE mac = ?", mac); err != nil {
			return fmt.Errorf("deleting microcontroller: %w", err)
		}
		return nil
	})
}

func insert(ctx context.Context, tx *sql.Tx, mc device.KnownMicrocontroller) (device.KnownMicrocontroller, error) {
	devicesJSON, err := marshalDevices(mc.Devices)
	if err != nil {
		return device.KnownMicrocontroller{}, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	mc.CreatedAt = now
	mc.UpdatedAt = now
	if mc.Devices == nil {
		mc.Devices = []device.ConnectedDevice{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO microcontrollers (
			mac, board_type, ip_address, project_name, firmware_version,
			enabled, devices, fingerprint, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mc.MAC,
		mc.BoardType,
		mc.IPAddress,
		mc.ProjectName,
		mc.FirmwareVersion,
		boolToInt(mc.Enabled),
		devicesJSON,
		string(device.FingerprintOf(mc)),
		mc.CreatedAt.Format(time.RFC3339),
		mc.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return device.KnownMicrocontroller{}, fmt.Errorf("inserting microcontroller: %w", err)
	}
	return mc, nil
}

func update(ctx context.Context, tx *sql.Tx, mc device.KnownMicrocontroller) (device.KnownMicrocontroller, error) {
	devicesJSON, err := marshalDevices(mc.Devices)
	if err != nil {
		return device.KnownMicrocontroller{}, err
	}

	mc.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if mc.Devices == nil {
		mc.Devices = []device.ConnectedDevice{}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE microcontrollers SET
			board_type = ?, ip_address = ?, project_name = ?, firmware_version = ?,
			enabled = ?, devices = ?, fingerprint = ?, updated_at = ?
		WHERE mac = ?`,
		mc.BoardType,
		mc.IPAddress,
		mc.ProjectName,
		mc.FirmwareVersion,
		boolToInt(mc.Enabled),
		devicesJSON,
		string(device.FingerprintOf(mc)),
		mc.UpdatedAt.Format(time.RFC3339),
		mc.MAC,
	)
	if err != nil {
		return device.KnownMicrocontroller{}, fmt.Errorf("updating microcontroller: %w", err)
	}
	return mc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMicrocontroller(s scanner) (device.KnownMicrocontroller, error) {
	var (
		mc                   device.KnownMicrocontroller
		enabled              int
		devicesJSON          string
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&mc.MAC,
		&mc.BoardType,
		&mc.IPAddress,
		&mc.ProjectName,
		&mc.FirmwareVersion,
		&enabled,
		&devicesJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return device.KnownMicrocontroller{}, err
	}

	mc.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(devicesJSON), &mc.Devices); err != nil {
		return device.KnownMicrocontroller{}, fmt.Errorf("unmarshalling devices of %s: %w", mc.MAC, err)
	}
	if mc.Devices == nil {
		mc.Devices = []device.ConnectedDevice{}
	}

	var err error
	if mc.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return device.KnownMicrocontroller{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if mc.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return device.KnownMicrocontroller{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return mc, nil
}

func marshalDevices(devices []device.ConnectedDevice) (string, error) {
	if devices == nil {
		devices = []device.ConnectedDevice{}
	}
	data, err := json.Marshal(devices)
	if err != nil {
		return "", fmt.Errorf("marshalling devices: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
