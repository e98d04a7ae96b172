// Package dialect provides the database abstraction the engine is built on.
//
// It defines the Driver, Tx and ExecQuerier interfaces that every engine
// component (catalog provider, executor, sequence generator) talks to, so
// the engine itself never touches database/sql directly.
//
// Three backends are registered:
//
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//	dialect.Postgres = "postgres"
//
// Opening a connection:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// The dialect/sql sub-package contains the database/sql based driver
// implementation and the parameterized statement builders.
package dialect
