package store

import (
	"context"
	"sync"
	"testing"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
)

func TestMemoryStoreSetAndFetch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ik, ikSecret, _ := crypto.GenerateSigningKeyPair()
	spkPub, _, _ := crypto.GenerateDHKeyPair()
	spk := bundle.SignSPK(ikSecret, spkPub)

	if err := s.SetSPK(ctx, "bob", ik, spk); err != nil {
		t.Fatalf("SetSPK: %v", err)
	}

	got, err := s.FetchBundle(ctx, "bob")
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	if got.OTK != nil {
		t.Fatal("expected no OTK in pool yet")
	}
	if string(got.IdentityKey) != string(ik) {
		t.Fatal("identity key mismatch")
	}
}

func TestMemoryStoreFetchUnknownIdentity(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.FetchBundle(context.Background(), "nobody"); err == nil {
		t.Fatal("expected UnknownIdentity")
	}
}

func TestMemoryStorePublishOTKBeforeSPKFails(t *testing.T) {
	s := NewMemoryStore()
	ik, ikSecret, _ := crypto.GenerateSigningKeyPair()
	otkPub, _, _ := crypto.GenerateDHKeyPair()
	batch := bundle.SignOTKBatch(ikSecret, [][32]byte{otkPub})

	if err := s.PublishOTKBundle(context.Background(), "bob", ik, batch); err == nil {
		t.Fatal("expected publishing OTKs before SetSPK to fail with UnknownIdentity")
	}
}

func TestMemoryStoreOTKSurvivesSPKRotation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ik, ikSecret, _ := crypto.GenerateSigningKeyPair()

	spk1Pub, _, _ := crypto.GenerateDHKeyPair()
	if err := s.SetSPK(ctx, "bob", ik, bundle.SignSPK(ikSecret, spk1Pub)); err != nil {
		t.Fatalf("SetSPK 1: %v", err)
	}

	otkPub, _, _ := crypto.GenerateDHKeyPair()
	batch := bundle.SignOTKBatch(ikSecret, [][32]byte{otkPub})
	if err := s.PublishOTKBundle(ctx, "bob", ik, batch); err != nil {
		t.Fatalf("PublishOTKBundle: %v", err)
	}

	spk2Pub, _, _ := crypto.GenerateDHKeyPair()
	if err := s.SetSPK(ctx, "bob", ik, bundle.SignSPK(ikSecret, spk2Pub)); err != nil {
		t.Fatalf("SetSPK 2: %v", err)
	}

	got, err := s.FetchBundle(ctx, "bob")
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	if got.SPK.PreKey != spk2Pub {
		t.Fatal("expected rotated SPK")
	}
	if got.OTK == nil || *got.OTK != otkPub {
		t.Fatal("expected OTK published before rotation to still be consumable")
	}
}

func TestMemoryStoreOTKExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ik, ikSecret, _ := crypto.GenerateSigningKeyPair()
	spkPub, _, _ := crypto.GenerateDHKeyPair()
	if err := s.SetSPK(ctx, "bob", ik, bundle.SignSPK(ikSecret, spkPub)); err != nil {
		t.Fatalf("SetSPK: %v", err)
	}

	const otkCount = 20
	var keys [][crypto.KeySize]byte
	for i := 0; i < otkCount; i++ {
		pub, _, _ := crypto.GenerateDHKeyPair()
		keys = append(keys, pub)
	}
	if err := s.PublishOTKBundle(ctx, "bob", ik, bundle.SignOTKBatch(ikSecret, keys)); err != nil {
		t.Fatalf("PublishOTKBundle: %v", err)
	}

	const fetchers = 50
	var wg sync.WaitGroup
	seen := make(chan [crypto.KeySize]byte, fetchers)
	for i := 0; i < fetchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.FetchBundle(ctx, "bob")
			if err != nil {
				t.Errorf("FetchBundle: %v", err)
				return
			}
			if b.OTK != nil {
				seen <- *b.OTK
			}
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[[crypto.KeySize]byte]int)
	total := 0
	for k := range seen {
		counts[k]++
		total++
	}
	if total != otkCount {
		t.Fatalf("expected exactly %d OTKs handed out, got %d", otkCount, total)
	}
	for k, c := range counts {
		if c != 1 {
			t.Fatalf("OTK %x handed out %d times", k, c)
		}
	}
}
