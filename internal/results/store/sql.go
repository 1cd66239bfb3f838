package store

import (
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
	_ "modernc.org/sqlite"

	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var (
	objectTable = goqu.T("result_object")

	object_key         = goqu.C("object_key")
	object_payload     = goqu.C("payload")
	object_permissions = goqu.C("permissions")
	object_updated     = goqu.C("updated")
)

var createTableSql = map[Dialect]string{
	DialectPostgres: `CREATE TABLE IF NOT EXISTS result_object (
		object_key  TEXT PRIMARY KEY,
		payload     BYTEA NOT NULL,
		permissions TEXT NOT NULL,
		updated     BIGINT NOT NULL
	)`,
	DialectSQLite: `CREATE TABLE IF NOT EXISTS result_object (
		object_key  TEXT PRIMARY KEY,
		payload     BLOB NOT NULL,
		permissions TEXT NOT NULL,
		updated     INTEGER NOT NULL
	)`,
}

// SQLStore keeps objects in a single table of a postgres or sqlite database.
type SQLStore struct {
	goquDb  *goqu.Database
	dialect Dialect
	clock   clock.PassiveClock
}

func NewSQLStore(db *sql.DB, dialect Dialect, clock clock.PassiveClock) *SQLStore {
	return &SQLStore{goquDb: goqu.New(string(dialect), db), dialect: dialect, clock: clock}
}

// OpenSQLite opens (creating if needed) a sqlite database file and ensures the object table exists.
func OpenSQLite(ctx *runctx.Context, path string) (*SQLStore, func() error, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "error opening sqlite database at %s", path)
	}
	// sqlite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	return openSql(ctx, db, DialectSQLite)
}

// OpenPostgres connects through the pgx driver and ensures the object table exists.
func OpenPostgres(ctx *runctx.Context, connection string) (*SQLStore, func() error, error) {
	db, err := sql.Open("pgx", connection)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "error opening postgres connection")
	}
	return openSql(ctx, db, DialectPostgres)
}

func openSql(ctx *runctx.Context, db *sql.DB, dialect Dialect) (*SQLStore, func() error, error) {
	s := NewSQLStore(db, dialect, clock.RealClock{})
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db.Close, nil
}

// Migrate creates the object table if it does not already exist.
func (s *SQLStore) Migrate(ctx *runctx.Context) error {
	stmt, ok := createTableSql[s.dialect]
	if !ok {
		return errors.WithStack(&resultserrors.ErrInvalidArgument{Name: "dialect", Value: s.dialect, Message: "expected postgres or sqlite3"})
	}
	if _, err := s.goquDb.ExecContext(ctx, stmt); err != nil {
		return errors.WithMessage(err, "error creating result_object table")
	}
	return nil
}

func (s *SQLStore) Store(ctx *runctx.Context, payload []byte, key string, permissions model.Permissions, async bool) error {
	return storeMaybeAsync(ctx, key, async, func(ctx *runctx.Context) error {
		return s.goquDb.WithTx(func(tx *goqu.TxDatabase) error {
			_, err := tx.Delete(objectTable).
				Where(object_key.Eq(key)).
				Prepared(true).
				Executor().
				ExecContext(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			_, err = tx.Insert(objectTable).
				Rows(goqu.Record{
					"object_key":  key,
					"payload":     payload,
					"permissions": string(permissions),
					"updated":     s.clock.Now().UnixNano(),
				}).
				Prepared(true).
				Executor().
				ExecContext(ctx)
			return errors.WithStack(err)
		})
	})
}

func (s *SQLStore) Load(ctx *runctx.Context, key string) ([]byte, error) {
	var payload []byte
	found, err := s.goquDb.From(objectTable).
		Select(object_payload).
		Where(object_key.Eq(key)).
		Prepared(true).
		ScanValContext(ctx, &payload)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !found {
		return nil, &resultserrors.ErrNotFound{Type: "object", Value: key}
	}
	return payload, nil
}

// Permissions returns the permissions an object was stored with.
func (s *SQLStore) Permissions(ctx *runctx.Context, key string) (model.Permissions, error) {
	var permissions string
	found, err := s.goquDb.From(objectTable).
		Select(object_permissions).
		Where(object_key.Eq(key)).
		Prepared(true).
		ScanValContext(ctx, &permissions)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if !found {
		return "", &resultserrors.ErrNotFound{Type: "object", Value: key}
	}
	return model.Permissions(permissions), nil
}

// UpdatedAt returns the time an object was last written.
func (s *SQLStore) UpdatedAt(ctx *runctx.Context, key string) (int64, error) {
	var updated int64
	found, err := s.goquDb.From(objectTable).
		Select(object_updated).
		Where(object_key.Eq(key)).
		Prepared(true).
		ScanValContext(ctx, &updated)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if !found {
		return 0, &resultserrors.ErrNotFound{Type: "object", Value: key}
	}
	return updated, nil
}
