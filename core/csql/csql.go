// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package csql wraps the postgres connection used by the device registry
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/espgate/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

var validSchema = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// OpenWithSchema opens a postgres database with a schema.
// The schema gets created if it does not exist yet.
// The function panics if the database cannot be reached.
func OpenWithSchema(ctx context.Context, dataSourceName, schema string) *DB {
	rlog := logger.FromContext(ctx)
	rlog.Infoln("connecting to postgres database:", RedactDSN(dataSourceName))
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	if err = db.PingContext(ctx); err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		if !validSchema.MatchString(schema) {
			panic(fmt.Sprintf("invalid database schema %q", schema))
		}
		rlog.Infoln("selected database schema:", schema)
		_, err = db.ExecContext(ctx, `CREATE schema IF NOT EXISTS `+schema+`;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// Table returns the fully qualified, quoted name of a table in the database's schema
func (db *DB) Table(name string) string {
	return db.Schema + "." + strconv.Quote(name)
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema(ctx context.Context) {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.ExecContext(ctx, `DROP SCHEMA `+db.Schema+` CASCADE;
	CREATE schema IF NOT EXISTS `+db.Schema+`;`)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("clear schema error:", db.Schema)
	}
}

var passwordParam = regexp.MustCompile(`password=\S+`)

// RedactDSN removes the password from a postgres connection string, both in URL
// and in key=value form
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	return passwordParam.ReplaceAllString(dsn, "password=xxxxx")
}
