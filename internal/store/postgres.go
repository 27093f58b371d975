package store

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

// PostgresStore is the networked IdentityStore backend for multi-replica
// deployments, where identity state must be shared across processes
// rather than held in one process's memory. Atomic OTK consumption is
// expressed as a DELETE...RETURNING inside one transaction, letting the
// database's own row locking do the exclusion the in-memory backend gets
// from a mutex.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against connStr and ensures
// the schema exists.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS identities (
		identity TEXT PRIMARY KEY,
		identity_key BYTEA NOT NULL,
		spk_key BYTEA NOT NULL,
		spk_signature BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("store: create identities table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS one_time_pre_keys (
		pub_key BYTEA PRIMARY KEY,
		identity TEXT NOT NULL REFERENCES identities(identity),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("store: create one_time_pre_keys table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SetSPK(ctx context.Context, identity string, ik ed25519.PublicKey, spk bundle.SignedPreKey) error {
	if err := bundle.VerifySPK(ik, spk); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO identities (identity, identity_key, spk_key, spk_signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE SET
			identity_key = excluded.identity_key,
			spk_key = excluded.spk_key,
			spk_signature = excluded.spk_signature`,
		identity, []byte(ik), spk.PreKey[:], spk.Signature[:])
	if err != nil {
		return x3dherr.New("store.SetSPK", x3dherr.Transient, err)
	}
	return nil
}

func (p *PostgresStore) PublishOTKBundle(ctx context.Context, identity string, ik ed25519.PublicKey, batch bundle.OneTimePreKeys) error {
	if err := bundle.VerifyOTKBatch(ik, batch); err != nil {
		return err
	}

	if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE identity = $1`, identity).Scan(new(int)); err == sql.ErrNoRows {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.UnknownIdentity, nil)
	} else if err != nil {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
	}
	defer tx.Rollback()

	for _, k := range batch.PreKeys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO one_time_pre_keys (pub_key, identity) VALUES ($1, $2)`,
			k[:], identity); err != nil {
			return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
	}
	return nil
}

func (p *PostgresStore) FetchBundle(ctx context.Context, identity string) (bundle.PreKeyBundle, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.Transient, err)
	}
	defer tx.Rollback()

	var ikBytes, spkKey, spkSig []byte
	err = tx.QueryRowContext(ctx,
		`SELECT identity_key, spk_key, spk_signature FROM identities WHERE identity = $1`, identity,
	).Scan(&ikBytes, &spkKey, &spkSig)
	if err == sql.ErrNoRows {
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.UnknownIdentity, nil)
	}
	if err != nil {
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.Transient, err)
	}

	b := bundle.PreKeyBundle{IdentityKey: ed25519.PublicKey(ikBytes)}
	copy(b.SPK.PreKey[:], spkKey)
	copy(b.SPK.Signature[:], spkSig)

	var otkBytes []byte
	err = tx.QueryRowContext(ctx, `
		DELETE FROM one_time_pre_keys
		WHERE pub_key = (
			SELECT pub_key FROM one_time_pre_keys
			WHERE identity = $1
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING pub_key`, identity,
	).Scan(&otkBytes)
	switch err {
	case nil:
		var otk [crypto.KeySize]byte
		copy(otk[:], otkBytes)
		b.OTK = &otk
	case sql.ErrNoRows:
		// pool empty; bundle goes out with no OTK
	default:
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.Transient, err)
	}

	if err := tx.Commit(); err != nil {
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.Transient, err)
	}
	return b, nil
}

func (p *PostgresStore) OTKPoolSize(ctx context.Context, identity string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM one_time_pre_keys WHERE identity = $1`, identity,
	).Scan(&n)
	if err != nil {
		return 0, x3dherr.New("store.OTKPoolSize", x3dherr.Transient, err)
	}
	return n, nil
}

// LowOTKIdentities returns every identity whose unused one-time prekey
// pool has fallen below threshold, for a maintenance job to alert on.
func (p *PostgresStore) LowOTKIdentities(ctx context.Context, threshold int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.identity, COUNT(o.pub_key) AS otk_count
		FROM identities i
		LEFT JOIN one_time_pre_keys o ON o.identity = i.identity
		GROUP BY i.identity
		HAVING COUNT(o.pub_key) < $1`, threshold)
	if err != nil {
		return nil, x3dherr.New("store.LowOTKIdentities", x3dherr.Transient, err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		var count int
		if err := rows.Scan(&identity, &count); err != nil {
			return nil, x3dherr.New("store.LowOTKIdentities", x3dherr.Transient, err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}
