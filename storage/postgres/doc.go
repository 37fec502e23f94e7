// Package postgres provides a PostgreSQL storage backend built on pgx.
//
// Store implements every repository interface in package storage. The atomic
// operations are conditional UPDATE ... RETURNING statements, so the database
// row lock decides which concurrent caller wins:
//
//	UPDATE oauth_authorization_codes SET used = TRUE
//	WHERE code = $1 AND used = FALSE AND expires_at >= $2
//	RETURNING ...
//
// Apply Schema yourself or set Config.Migrate:
//
//	store, err := postgres.New(ctx, postgres.Config{
//	    DSN:     os.Getenv("DATABASE_URL"),
//	    Migrate: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// DeleteExpired should be called periodically; PostgreSQL has no key TTLs.
package postgres
