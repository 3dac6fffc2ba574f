// Package pg wires PostgreSQL access for the service: a pgx connection pool
// with startup retries, a database/sql bridge over that pool, goose
// migrations read from an fs.FS, readiness checks and helpers that classify
// driver errors by SQLSTATE.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	db := pg.OpenDB(pool)
//	if err := pg.Migrate(ctx, db, migrations.FS, cfg, log); err != nil {
//		return err
//	}
package pg
