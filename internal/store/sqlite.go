package store

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

// SQLiteStore is the embedded-database IdentityStore backend for
// single-process deployments that want durability without standing up a
// networked database. Its schema follows the original reference server's
// users/one_time_pre_keys tables: one row per identity, one row per
// outstanding one-time prekey.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid lock contention noise

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS identities (
		identity TEXT PRIMARY KEY,
		identity_key BLOB NOT NULL,
		spk_key BLOB NOT NULL,
		spk_signature BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("store: create identities table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS one_time_pre_keys (
		pub_key BLOB PRIMARY KEY,
		identity TEXT NOT NULL REFERENCES identities(identity),
		created_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("store: create one_time_pre_keys table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SetSPK(ctx context.Context, identity string, ik ed25519.PublicKey, spk bundle.SignedPreKey) error {
	if err := bundle.VerifySPK(ik, spk); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (identity, identity_key, spk_key, spk_signature, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			identity_key = excluded.identity_key,
			spk_key = excluded.spk_key,
			spk_signature = excluded.spk_signature`,
		identity, []byte(ik), spk.PreKey[:], spk.Signature[:], time.Now().Unix())
	if err != nil {
		return x3dherr.New("store.SetSPK", x3dherr.Transient, err)
	}
	return nil
}

func (s *SQLiteStore) PublishOTKBundle(ctx context.Context, identity string, ik ed25519.PublicKey, batch bundle.OneTimePreKeys) error {
	if err := bundle.VerifyOTKBatch(ik, batch); err != nil {
		return err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE identity = ?`, identity).Scan(new(int)); err == sql.ErrNoRows {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.UnknownIdentity, nil)
	} else if err != nil {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, k := range batch.PreKeys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO one_time_pre_keys (pub_key, identity, created_at) VALUES (?, ?, ?)`,
			k[:], identity, now); err != nil {
			return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.Transient, err)
	}
	return nil
}

func (s *SQLiteStore) FetchBundle(ctx context.Context, identity string) (bundle.PreKeyBundle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.Transient, err)
	}
	defer tx.Rollback()

	var ikBytes, spkKey, spkSig []byte
	err = tx.QueryRowContext(ctx,
		`SELECT identity_key, spk_key, spk_signature FROM identities WHERE identity = ?`, identity,
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
	err = tx.QueryRowContext(ctx,
		`SELECT pub_key FROM one_time_pre_keys WHERE identity = ? LIMIT 1`, identity,
	).Scan(&otkBytes)
	switch err {
	case nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM one_time_pre_keys WHERE pub_key = ?`, otkBytes); err != nil {
			return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.Transient, err)
		}
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

func (s *SQLiteStore) OTKPoolSize(ctx context.Context, identity string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM one_time_pre_keys WHERE identity = ?`, identity,
	).Scan(&n)
	if err != nil {
		return 0, x3dherr.New("store.OTKPoolSize", x3dherr.Transient, err)
	}
	return n, nil
}
