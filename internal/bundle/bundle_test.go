package bundle

import (
	"testing"

	"github.com/dayandersen/brongnal/internal/crypto"
)

func TestVerifySPKAcceptsValidSignature(t *testing.T) {
	ik, ikSecret, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate ik: %v", err)
	}
	spkPub, _, err := crypto.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("generate spk: %v", err)
	}

	spk := SignSPK(ikSecret, spkPub)
	if err := VerifySPK(ik, spk); err != nil {
		t.Fatalf("expected valid SPK to verify, got %v", err)
	}
}

func TestVerifySPKRejectsMutatedPublic(t *testing.T) {
	ik, ikSecret, _ := crypto.GenerateSigningKeyPair()
	spkPub, _, _ := crypto.GenerateDHKeyPair()
	spk := SignSPK(ikSecret, spkPub)

	spk.PreKey[0] ^= 0xFF
	if err := VerifySPK(ik, spk); err == nil {
		t.Fatal("expected mutated SPK public to fail verification")
	}
}

func TestOTKBatchSignedAsSingleUnit(t *testing.T) {
	ik, ikSecret, _ := crypto.GenerateSigningKeyPair()
	var keys [][crypto.KeySize]byte
	for i := 0; i < 3; i++ {
		pub, _, err := crypto.GenerateDHKeyPair()
		if err != nil {
			t.Fatalf("generate otk %d: %v", i, err)
		}
		keys = append(keys, pub)
	}
	batch := SignOTKBatch(ikSecret, keys)
	if err := VerifyOTKBatch(ik, batch); err != nil {
		t.Fatalf("expected valid batch to verify, got %v", err)
	}

	// Reordering the keys changes the signed concatenation, so a batch
	// with the same members in a different order must not verify under
	// the original signature.
	reordered := OneTimePreKeys{PreKeys: []([32]byte){keys[1], keys[0], keys[2]}, Signature: batch.Signature}
	if err := VerifyOTKBatch(ik, reordered); err == nil {
		t.Fatal("expected reordered batch to fail verification")
	}
}

func TestVerifyBundleRejectsWrongSigner(t *testing.T) {
	_, ikSecret, _ := crypto.GenerateSigningKeyPair()
	otherIK, _, _ := crypto.GenerateSigningKeyPair()
	spkPub, _, _ := crypto.GenerateDHKeyPair()
	spk := SignSPK(ikSecret, spkPub)

	if err := VerifyBundle(otherIK, [][crypto.KeySize]byte{spk.PreKey}, spk.Signature); err == nil {
		t.Fatal("expected signature under a different identity key to fail")
	}
}
