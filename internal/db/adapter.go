package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PgxConnector opens plain pgx connections.
type PgxConnector struct{}

func (PgxConnector) Connect(ctx context.Context, p Params) (Conn, error) {
	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, err
	}
	cfg.Host = p.Host
	if p.Port > 0 {
		cfg.Port = uint16(p.Port)
	}
	cfg.Database = p.Database
	cfg.User = p.User
	cfg.Password = p.Password
	if p.ConnectTimeout > 0 {
		cfg.ConnectTimeout = p.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectError{Params: p, Err: err}
	}
	return &pgxConn{conn: conn}, nil
}

// pgxConn adapts *pgx.Conn to Conn, opening a transaction lazily.
type pgxConn struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

func (c *pgxConn) begin(ctx context.Context) (pgx.Tx, error) {
	if c.tx != nil {
		return c.tx, nil
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	c.tx = tx
	return tx, nil
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) error {
	tx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, sql, args...)
	return err
}

func (c *pgxConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	tx, err := c.begin(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return tx.QueryRow(ctx, sql, args...)
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	tx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, sql, args...)
}

func (c *pgxConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

func (c *pgxConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	err := tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (c *pgxConn) Close(ctx context.Context) error {
	rbErr := c.Rollback(ctx)
	if err := c.conn.Close(ctx); err != nil {
		return err
	}
	if rbErr != nil {
		return fmt.Errorf("rollback on close: %w", rbErr)
	}
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
