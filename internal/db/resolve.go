package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"cdc_migrator/internal/config"
	"cdc_migrator/internal/storage"
)

var ErrNoDatabase = errors.New("no database configured for environment")

// ServerSource looks up sink-group server definitions.
type ServerSource interface {
	Server(sinkGroup, service string) (config.Server, error)
}

// Resolver turns a sink's manifest into connection parameters. Database
// names come from the manifest's per-environment map; credentials from the
// sink group's server definition, falling back to PG_* variables.
type Resolver struct {
	servers ServerSource
	timeout time.Duration
}

func NewResolver(servers ServerSource, timeout time.Duration) *Resolver {
	return &Resolver{servers: servers, timeout: timeout}
}

func (r *Resolver) Resolve(target storage.SinkTarget, env string) (Params, error) {
	p := Params{ConnectTimeout: r.timeout}

	p.Database = target.Databases[env]
	if p.Database == "" {
		p.Database = os.Getenv("PG_DATABASE")
	}
	if p.Database == "" {
		return p, fmt.Errorf("%w %q (sink %s.%s); add it under databases in the sink group or set PG_DATABASE",
			ErrNoDatabase, env, target.SinkGroup, target.Service)
	}

	if r.servers != nil && target.SinkGroup != "" {
		srv, err := r.servers.Server(target.SinkGroup, target.Service)
		switch {
		case err == nil:
			p.Host, p.Port, p.User, p.Password = srv.Host, srv.Port, srv.User, srv.Password
			fillFromEnv(&p)
			return p, nil
		case errors.Is(err, config.ErrSinkGroupMissing):
		default:
			return p, err
		}
	}

	fillFromEnv(&p)
	return p, nil
}

// fillFromEnv sets empty fields from PG_HOST, PG_PORT, PG_USER and
// PG_PASSWORD.
func fillFromEnv(p *Params) {
	if p.Host == "" {
		p.Host = envOr("PG_HOST", "localhost")
	}
	if p.Port == 0 {
		if n, err := strconv.Atoi(envOr("PG_PORT", "5432")); err == nil {
			p.Port = n
		}
	}
	if p.User == "" {
		p.User = envOr("PG_USER", "postgres")
	}
	if p.Password == "" {
		p.Password = os.Getenv("PG_PASSWORD")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ConnectError is a failed connection attempt with a hint for the operator.
type ConnectError struct {
	Params Params
	Err    error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connect %s: %v", e.Params, e.Err)
	if h := e.Hint(); h != "" {
		msg += " (hint: " + h + ")"
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Hint() string {
	var dnsErr *net.DNSError
	var pgErr *pgconn.PgError
	switch {
	case errors.As(e.Err, &dnsErr):
		return "host " + e.Params.Host + " does not resolve; check the sink group server host"
	case errors.As(e.Err, &pgErr) && pgErr.Code == "28P01":
		return "password authentication failed; check PG_PASSWORD or the server password placeholder"
	case errors.As(e.Err, &pgErr) && pgErr.Code == "3D000":
		return "database " + e.Params.Database + " does not exist; check the databases map"
	case errors.Is(e.Err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(e.Err.Error()), "timeout"):
		return "connection timed out; check network access or raise CDC_CONNECT_TIMEOUT"
	case strings.Contains(e.Err.Error(), "connection refused"):
		return "nothing listens on " + e.Params.Host + ":" + strconv.Itoa(e.Params.Port)
	}
	return ""
}
