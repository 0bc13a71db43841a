// Package store implements the patient repository on PostgreSQL via pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/patientsync/internal/config"
	"github.com/JonMunkholm/patientsync/internal/core"
)

// DBTX is the interface for database operations.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Open parses the connection string, applies pool settings, connects and
// pings. The pool is closed again if the ping fails.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// WithPool opens a pool, runs fn and closes the pool on every exit path,
// including errors returned by fn and panics.
func WithPool(ctx context.Context, cfg config.DatabaseConfig, fn func(*pgxpool.Pool) error) error {
	pool, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(pool)
}

// PatientRepo implements core.PatientRepository.
type PatientRepo struct {
	db DBTX
}

var _ core.PatientRepository = (*PatientRepo)(nil)

// NewPatientRepo returns a repository over db.
func NewPatientRepo(db DBTX) *PatientRepo {
	return &PatientRepo{db: db}
}

const (
	findByEmailsSQL = `SELECT id, email FROM patients WHERE lower(email) = ANY($1) ORDER BY id`

	findByIDsSQL = `SELECT id, first_name, last_name, email FROM patients WHERE id = ANY($1) ORDER BY id`

	findUserSQL = `SELECT id, email FROM users WHERE id = $1`

	insertPatientSQL = `
		INSERT INTO patients (
			id, tenant_id, email, first_name, last_name, dob, gender,
			phone_number, created_by_id, ssn, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
)

// FindByEmails matches lower(email) against the lower-cased keys.
func (r *PatientRepo) FindByEmails(ctx context.Context, emails []string) ([]core.EmailMatch, error) {
	keys := make([]string, len(emails))
	for i, e := range emails {
		keys[i] = strings.ToLower(strings.TrimSpace(e))
	}

	rows, err := r.db.Query(ctx, findByEmailsSQL, keys)
	if err != nil {
		return nil, fmt.Errorf("find patients by email: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.EmailMatch, error) {
		var id pgtype.UUID
		var email pgtype.Text
		if err := row.Scan(&id, &email); err != nil {
			return core.EmailMatch{}, err
		}
		return core.EmailMatch{ID: core.PgUUIDToString(id), Email: core.PgTextToString(email)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan patients by email: %w", err)
	}
	return matches, nil
}

// FindByIDs returns the patients among ids that already exist.
func (r *PatientRepo) FindByIDs(ctx context.Context, ids []string) ([]core.PatientSummary, error) {
	parsed, err := toPgUUIDs(ids)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, findByIDsSQL, parsed)
	if err != nil {
		return nil, fmt.Errorf("find patients by id: %w", err)
	}

	patients, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.PatientSummary, error) {
		var id pgtype.UUID
		var first, last, email pgtype.Text
		if err := row.Scan(&id, &first, &last, &email); err != nil {
			return core.PatientSummary{}, err
		}
		return core.PatientSummary{
			ID:        core.PgUUIDToString(id),
			FirstName: core.PgTextToString(first),
			LastName:  core.PgTextToString(last),
			Email:     core.PgTextToString(email),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan patients by id: %w", err)
	}
	return patients, nil
}

// FindUserByID returns nil, nil if no user has this id.
func (r *PatientRepo) FindUserByID(ctx context.Context, id string) (*core.User, error) {
	uid := core.ToPgUUID(id)
	if !uid.Valid {
		return nil, nil
	}

	var userID pgtype.UUID
	var email pgtype.Text
	err := r.db.QueryRow(ctx, findUserSQL, uid).Scan(&userID, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return &core.User{ID: core.PgUUIDToString(userID), Email: core.PgTextToString(email)}, nil
}

// CreateOne inserts a single patient.
func (r *PatientRepo) CreateOne(ctx context.Context, rec core.NewPatientRecord) error {
	id := core.ToPgUUID(rec.ID)
	if !id.Valid {
		return fmt.Errorf("insert patient: invalid id %q", rec.ID)
	}

	var metadata any
	if rec.Metadata != nil {
		metadata = []byte(*rec.Metadata)
	}

	tag, err := r.db.Exec(ctx, insertPatientSQL,
		id,
		core.ToPgUUID(rec.TenantID),
		rec.Email,
		rec.FirstName,
		rec.LastName,
		rec.DOB,
		string(rec.Gender),
		rec.PhoneNumber,
		core.ToPgUUID(rec.CreatedByID),
		rec.SSN,
		metadata,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("insert patient %s: %d rows affected", rec.ID, tag.RowsAffected())
	}
	return nil
}

// toPgUUIDs converts ids for an = ANY($1) match against a uuid column.
func toPgUUIDs(ids []string) ([]pgtype.UUID, error) {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		u := core.ToPgUUID(id)
		if !u.Valid {
			return nil, fmt.Errorf("invalid patient id %q", id)
		}
		out = append(out, u)
	}
	return out, nil
}
