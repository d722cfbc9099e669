package rwconn

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
)

// Credentials identify the database to connect to.
type Credentials struct {
	User     string
	Password string
	Role     string
	// Path locates the database as "host:database", "host/port:database"
	// or just "database" for a local server.
	Path    string
	Charset string
	// PageBuffers is handed to custom DSN formatters. The built-in
	// formatters ignore it.
	PageBuffers int
	// Pooled shares one *sql.DB per driver and DSN across coordinators
	// instead of opening a dedicated one.
	Pooled bool
	// DSN, when set, is used verbatim and the fields above are only
	// informational.
	DSN string
}

// DSNFunc renders Credentials into a driver specific data source name.
type DSNFunc func(c Credentials) string

func splitPath(path string) (host, port, database string) {
	i := strings.Index(path, ":")
	if i < 0 {
		return "", "", path
	}
	host, database = path[:i], path[i+1:]
	if j := strings.Index(host, "/"); j >= 0 {
		host, port = host[:j], host[j+1:]
	}
	return host, port, database
}

func quoteDSNValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// PostgresDSN renders Credentials as a libpq keyword/value string for the
// pgx driver. Role is applied with a startup option and Charset becomes
// client_encoding.
func PostgresDSN(c Credentials) string {
	if c.DSN != "" {
		return c.DSN
	}

	host, port, database := splitPath(c.Path)

	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+quoteDSNValue(v))
		}
	}
	add("host", host)
	add("port", port)
	add("dbname", database)
	add("user", c.User)
	add("password", c.Password)
	add("client_encoding", c.Charset)
	if c.Role != "" {
		add("options", "-c role="+c.Role)
	}

	return strings.Join(parts, " ")
}

// MySQLDSN renders Credentials for go-sql-driver/mysql. Role has no
// equivalent there and is ignored.
func MySQLDSN(c Credentials) string {
	if c.DSN != "" {
		return c.DSN
	}

	host, port, database := splitPath(c.Path)
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "3306"
	}

	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = database
	if c.Charset != "" {
		cfg.Params = map[string]string{"charset": c.Charset}
	}

	return cfg.FormatDSN()
}

type poolKey struct {
	driverName string
	dsn        string
}

var pools = struct {
	sync.Mutex
	dbs map[poolKey]*sql.DB
}{
	dbs: make(map[poolKey]*sql.DB),
}

func pooledDB(driverName, dsn string) (*sql.DB, error) {
	pools.Lock()
	defer pools.Unlock()

	k := poolKey{driverName, dsn}
	if db, ok := pools.dbs[k]; ok {
		return db, nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	pools.dbs[k] = db

	return db, nil
}

// ClosePools closes every *sql.DB opened for pooled credentials. Coordinators
// still holding a pooled connection must be closed first.
func ClosePools() error {
	pools.Lock()
	defer pools.Unlock()

	var errs []error
	for k, db := range pools.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(pools.dbs, k)
	}

	if len(errs) > 0 {
		return newError(ConnectionError, "close pools", errors.Join(errs...))
	}
	return nil
}

// Database is the handle on a database/sql driver. A database/sql
// connection carries one transaction at a time, so each of the coordinator's
// transaction contexts holds its own physical connection while started. In
// direct mode the handle's private *sql.DB is capped at those two
// connections.
type Database struct {
	driverName string
	pooled     bool
	db         *sql.DB
}

// directMaxConns is one connection per transaction context.
const directMaxConns = 2

// NewDatabase returns a disconnected handle for the named database/sql
// driver.
func NewDatabase(driverName string) *Database {
	return &Database{
		driverName: driverName,
	}
}

// Connect opens the database and establishes the first physical connection,
// so that connection failures surface here. It is a no-op when already
// connected.
func (d *Database) Connect(ctx context.Context, dsn string, pooled bool) error {
	if d.db != nil {
		return nil
	}

	var db *sql.DB
	var err error
	if pooled {
		db, err = pooledDB(d.driverName, dsn)
	} else {
		db, err = sql.Open(d.driverName, dsn)
		if err == nil {
			db.SetMaxOpenConns(directMaxConns)
			db.SetMaxIdleConns(directMaxConns)
		}
	}
	if err != nil {
		return newError(ConnectionError, "connect", err)
	}

	if err = db.PingContext(ctx); err != nil {
		if !pooled {
			_ = db.Close()
		}
		return newError(ConnectionError, "connect", err)
	}

	d.db = db
	d.pooled = pooled

	return nil
}

// Disconnect closes a direct database. A pooled one stays open for other
// handles until ClosePools.
func (d *Database) Disconnect() error {
	if d.db == nil {
		return nil
	}

	var err error
	if !d.pooled {
		err = d.db.Close()
	}
	d.db = nil

	if err != nil {
		return newError(ConnectionError, "disconnect", err)
	}
	return nil
}

// IsConnected reports whether the handle is connected.
func (d *Database) IsConnected() bool {
	return d.db != nil
}

// DB returns the underlying *sql.DB, nil when disconnected.
func (d *Database) DB() *sql.DB {
	return d.db
}
