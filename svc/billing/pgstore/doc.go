// Package pgstore implements billing.Store on PostgreSQL through
// database/sql.
//
// Tenant and webhook rows are locked with SELECT ... FOR UPDATE, payment
// uniqueness is enforced by the payments primary key, and Tx.Savepoint maps
// to SQL savepoints. Migrations returns the embedded goose migrations for
// pg.Migrate.
//
//	pool, _ := pg.Connect(ctx, cfg.Postgres)
//	db := pg.OpenDB(pool)
//	_ = pg.Migrate(ctx, db, pgstore.Migrations(), cfg.Postgres, log)
//	store := pgstore.New(db)
package pgstore
