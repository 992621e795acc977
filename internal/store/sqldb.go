// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	dbDriver      = "mysql"
	dbPoolSize    = 4
	dbConnLife    = 30 * time.Minute
	dbTimeout     = 5
	FlavorMariaDB = "mariadb"
	FlavorAurora  = "aws-aurora"
)

var ErrBadHostname = fmt.Errorf("hostname is required")

// Options describes a MySQL-compatible database to read from.
type Options struct {
	Host     string
	User     string
	Password string
	Database string
	Flavor   string
	// Timeout in seconds for connect and ping.
	Timeout int
	// TLS is a go-sql-driver tls value ("true", "skip-verify", "preferred" or a registered name).
	TLS string
}

type SQLClient struct {
	db      *sql.DB
	timeout time.Duration
	name    string
}

func (sc *SQLClient) Name() string {
	if sc == nil {
		return ""
	}
	return sc.name
}

func (sc *SQLClient) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sc.timeout)
}

func (sc *SQLClient) Close() error {
	if sc.db != nil {
		err := sc.db.Close()
		sc.db = nil
		return err
	}
	return nil
}

func (sc *SQLClient) GetDB() *sql.DB {
	return sc.db
}

func (sc *SQLClient) Ping(ctx context.Context) error {
	ctx, cancel := sc.context(ctx)
	defer cancel()
	return sc.db.PingContext(ctx)
}

// DSN renders opts as a go-sql-driver DSN.
func DSN(opts Options) (string, error) {
	if opts.Host == "" {
		return "", ErrBadHostname
	}
	if opts.Database == "" {
		return "", fmt.Errorf("database name is required")
	}

	timeout := opts.Timeout
	if timeout < 1 {
		timeout = dbTimeout
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = opts.Host
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Timeout = time.Duration(timeout) * time.Second
	if opts.TLS != "" {
		cfg.TLSConfig = opts.TLS
	}

	switch opts.Flavor {
	case "", FlavorMariaDB:
		cfg.User = opts.User
		cfg.Passwd = opts.Password
	case FlavorAurora:
		cfg.User = opts.User
		if cfg.User == "" {
			cfg.User = "root"
		}
		cfg.Passwd = opts.Password
		// Aurora IAM and Secrets Manager passwords need the cleartext plugin over TLS.
		cfg.AllowCleartextPasswords = cfg.TLSConfig != ""
	default:
		return "", fmt.Errorf("unsupported database flavor: %s (must be %s or %s)", opts.Flavor, FlavorMariaDB, FlavorAurora)
	}

	return cfg.FormatDSN(), nil
}

// NewSQLClient opens and pings the database.
func NewSQLClient(ctx context.Context, opts Options) (*SQLClient, error) {
	dsn, err := DSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dbDriver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(dbConnLife)
	db.SetMaxOpenConns(dbPoolSize)
	db.SetMaxIdleConns(dbPoolSize)

	timeout := opts.Timeout
	if timeout < 1 {
		timeout = dbTimeout
	}
	name := opts.Flavor
	if name == "" {
		name = FlavorMariaDB
	}

	sc := &SQLClient{
		db:      db,
		timeout: time.Duration(timeout) * time.Second,
		name:    name,
	}

	if err = sc.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s at %s: %w", name, opts.Host, err)
	}

	return sc, nil
}
