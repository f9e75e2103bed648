package db

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoRows is returned by Row.Scan when a query matched nothing.
var ErrNoRows = pgx.ErrNoRows

// Conn is a single target-database session with implicit transactions: the
// first statement after Open, Commit or Rollback starts a new transaction.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Connector opens connections. The apply engine and status reporter own the
// connections they open and close them themselves.
type Connector interface {
	Connect(ctx context.Context, p Params) (Conn, error)
}

// Params locates one target database.
type Params struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	ConnectTimeout time.Duration
}

// String omits the password.
func (p Params) String() string {
	return p.User + "@" + p.Host + ":" + strconv.Itoa(p.Port) + "/" + p.Database
}

// Schema holds the introspected columns of one database schema.
type Schema struct {
	Name   string
	Tables map[string]Table
}

type Table struct {
	Name    string
	Columns map[string]Column
}

// Column is a live column as reported by information_schema.
type Column struct {
	Name       string
	DataType   string
	UDTName    string
	IsNullable bool
	Default    *string
}
