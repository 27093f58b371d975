package crypto

import (
	"crypto/ed25519"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestDHRoundTrip(t *testing.T) {
	aPub, aSec, err := GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	bPub, bSec, err := GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}

	ab, err := DH(aSec, bPub)
	if err != nil {
		t.Fatalf("DH(a,b): %v", err)
	}
	ba, err := DH(bSec, aPub)
	if err != nil {
		t.Fatalf("DH(b,a): %v", err)
	}
	if ab != ba {
		t.Fatalf("shared secrets disagree: %x != %x", ab, ba)
	}
}

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("bundle contents")
	sig := Sign(priv, msg)

	if !Verify(pub, msg, sig) {
		t.Fatal("valid signature rejected")
	}

	tampered := append([]byte{}, sig...)
	tampered[0] ^= 0xFF
	if Verify(pub, msg, tampered) {
		t.Fatal("tampered signature accepted")
	}

	otherPub, _, _ := GenerateSigningKeyPair()
	if Verify(otherPub, msg, sig) {
		t.Fatal("signature verified under wrong key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := KDF([]byte("some shared secret material"))
	nonce := InitialMessageNonce()
	ad := []byte("sender||recipient")
	plaintext := []byte("Hi Bob")

	ct, err := Seal(key, nonce, ad, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	pt, err := Open(key, nonce, ad, ct)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("got %q, want %q", pt, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := KDF([]byte("key material"))
	nonce := InitialMessageNonce()
	ad := []byte("ad")
	ct, err := Seal(key, nonce, ad, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ct[0] ^= 0xFF
	if _, err := Open(key, nonce, ad, ct); err == nil {
		t.Fatal("expected tampered ciphertext to fail to open")
	}
}

func TestOpenRejectsMismatchedAD(t *testing.T) {
	key := KDF([]byte("key material"))
	nonce := InitialMessageNonce()
	ct, err := Seal(key, nonce, []byte("alice||bob"), []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(key, nonce, []byte("bob||alice"), ct); err == nil {
		t.Fatal("expected swapped associated data to fail to open")
	}
}

func TestIdentityKeyConversionIsDeterministic(t *testing.T) {
	pub, priv, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	xPub1, err := IdentityPublicToX25519(pub)
	if err != nil {
		t.Fatalf("convert pub: %v", err)
	}
	xPub2, err := IdentityPublicToX25519(pub)
	if err != nil {
		t.Fatalf("convert pub again: %v", err)
	}
	if xPub1 != xPub2 {
		t.Fatal("public key projection is not deterministic")
	}

	xSec, err := IdentitySecretToX25519(priv)
	if err != nil {
		t.Fatalf("convert priv: %v", err)
	}

	// The projected secret scalar must produce the projected public point
	// under the X25519 basepoint multiplication, matching RFC 8032's
	// correspondence between the Edwards and Montgomery models.
	derivedRaw, err := curve25519.X25519(xSec[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("derive dh public from projected secret: %v", err)
	}
	var derivedPub [KeySize]byte
	copy(derivedPub[:], derivedRaw)
	if derivedPub != xPub1 {
		t.Fatalf("projected secret does not correspond to projected public: %x != %x", derivedPub, xPub1)
	}
}

func TestIdentityPublicToX25519RejectsBadLength(t *testing.T) {
	if _, err := IdentityPublicToX25519(ed25519.PublicKey(make([]byte, 10))); err == nil {
		t.Fatal("expected error on malformed public key")
	}
}
