package database

import (
	"errors"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers used for classification.
const (
	mysqlErrDBCreateExists = 1007
	mysqlErrBadDB          = 1049
	mysqlErrDupEntry       = 1062
)

// MySQL is the go-sql-driver/mysql dialect.  It also covers MariaDB.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

// AdminDatabase is empty: MySQL accepts CREATE DATABASE without selecting a
// schema first.
func (MySQL) AdminDatabase() string { return "" }

// DSN renders a go-sql-driver DSN with parseTime enabled so DATETIME columns
// scan into time.Time.  clientFoundRows makes RowsAffected count matched
// rows, as Postgres does.
func (MySQL) DSN(c Cluster, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if len(c.Params) > 0 {
		cfg.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

func (MySQL) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (d MySQL) CreateDatabaseSQL(name string) string {
	return "CREATE DATABASE " + d.QuoteIdent(name) +
		" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
}

func (MySQL) DatabaseExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?`
}

func (MySQL) IsDuplicateDatabase(err error) bool { return mysqlErrNumber(err) == mysqlErrDBCreateExists }
func (MySQL) IsDuplicateKey(err error) bool      { return mysqlErrNumber(err) == mysqlErrDupEntry }
func (MySQL) IsUnknownDatabase(err error) bool   { return mysqlErrNumber(err) == mysqlErrBadDB }

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}
