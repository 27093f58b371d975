package store

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

type identityRecord struct {
	ik      ed25519.PublicKey
	spk     bundle.SignedPreKey
	otkPool [][crypto.KeySize]byte
}

// MemoryStore is the in-process IdentityStore backend: a single mutex
// guards all identities, matching the "one exclusion per top-level map is
// sufficient" guidance this system standardizes on for maps this small
// and this rarely contended.
type MemoryStore struct {
	mu         sync.Mutex
	identities map[string]*identityRecord
}

// NewMemoryStore returns an empty MemoryStore ready for use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identities: make(map[string]*identityRecord)}
}

func (s *MemoryStore) SetSPK(ctx context.Context, identity string, ik ed25519.PublicKey, spk bundle.SignedPreKey) error {
	if err := bundle.VerifySPK(ik, spk); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.identities[identity]
	if !ok {
		rec = &identityRecord{}
		s.identities[identity] = rec
	}
	rec.ik = ik
	rec.spk = spk
	// OTKs are signed under ik, independent of spk, so rotation does not
	// clear the pool.
	return nil
}

func (s *MemoryStore) PublishOTKBundle(ctx context.Context, identity string, ik ed25519.PublicKey, batch bundle.OneTimePreKeys) error {
	if err := bundle.VerifyOTKBatch(ik, batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.identities[identity]
	if !ok {
		return x3dherr.New("store.PublishOTKBundle", x3dherr.UnknownIdentity, nil)
	}
	rec.otkPool = append(rec.otkPool, batch.PreKeys...)
	return nil
}

func (s *MemoryStore) FetchBundle(ctx context.Context, identity string) (bundle.PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.identities[identity]
	if !ok {
		return bundle.PreKeyBundle{}, x3dherr.New("store.FetchBundle", x3dherr.UnknownIdentity, nil)
	}

	b := bundle.PreKeyBundle{IdentityKey: rec.ik, SPK: rec.spk}
	if n := len(rec.otkPool); n > 0 {
		otk := rec.otkPool[n-1]
		rec.otkPool = rec.otkPool[:n-1]
		b.OTK = &otk
	}
	return b, nil
}

func (s *MemoryStore) OTKPoolSize(ctx context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.identities[identity]
	if !ok {
		return 0, nil
	}
	return len(rec.otkPool), nil
}
