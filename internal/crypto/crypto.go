// Package crypto wraps the primitive operations the X3DH engine is built
// from: Ed25519 signing, X25519 Diffie-Hellman, the deterministic
// Ed25519<->X25519 projection that lets one identity key serve both roles,
// a BLAKE2b-512 key derivation function, and ChaCha20-Poly1305 AEAD.
//
// Nothing in this package is aware of bundles, sessions, or the wire
// format; it only knows bytes.
package crypto

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/dayandersen/brongnal/internal/x3dherr"
)

func readRandom(buf []byte) (int, error) {
	return io.ReadFull(crand.Reader, buf)
}

const (
	// KeySize is the byte length of an Ed25519 public key and of an X25519
	// public or secret key. Ed25519 private keys are
	// ed25519.PrivateKeySize (64) bytes.
	KeySize = 32
	// NonceSize is the AEAD nonce length ChaCha20-Poly1305 expects.
	NonceSize = chacha20poly1305.NonceSize
)

// GenerateSigningKeyPair creates a fresh Ed25519 identity key pair.
func GenerateSigningKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// GenerateDHKeyPair creates a fresh X25519 key pair suitable for an SPK,
// OTK, or ephemeral key.
func GenerateDHKeyPair() (public, secret [KeySize]byte, err error) {
	if _, err = readRandom(secret[:]); err != nil {
		return public, secret, fmt.Errorf("crypto: generate dh keypair: %w", err)
	}
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return public, secret, fmt.Errorf("crypto: derive dh public: %w", err)
	}
	copy(public[:], pub)
	return public, secret, nil
}

// Sign produces a 64-byte Ed25519 signature over message under signingKey.
func Sign(signingKey ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(signingKey, message)
}

// Verify reports whether signature is a valid Ed25519 signature over
// message under verifyingKey.
func Verify(verifyingKey ed25519.PublicKey, message, signature []byte) bool {
	if len(verifyingKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(verifyingKey, message, signature)
}

// DH performs an X25519 Diffie-Hellman exchange. It rejects the all-zero
// output that results from a low-order or identity input point, the same
// guard used for the Ed25519-peer key agreement in the wider example corpus.
func DH(secret, peerPublic [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := curve25519.X25519(secret[:], peerPublic[:])
	if err != nil {
		return out, x3dherr.New("crypto.DH", x3dherr.BadEncoding, err)
	}
	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(raw, zero[:]) == 1 {
		return out, x3dherr.New("crypto.DH", x3dherr.BadEncoding, fmt.Errorf("low-order or identity point"))
	}
	copy(out[:], raw)
	return out, nil
}

// KDF derives a 32-byte session key from the concatenation of inputs using
// BLAKE2b-512, keeping only the first half of the digest. BLAKE2b-512 (not
// HKDF-SHA256) is the construction this system standardizes on: it is a
// single hash call over the fixed-order DH concatenation, with no extra
// salt/info parameters to get wrong.
func KDF(inputs ...[]byte) [KeySize]byte {
	var buf []byte
	for _, in := range inputs {
		buf = append(buf, in...)
	}
	digest := blake2b.Sum512(buf)
	var key [KeySize]byte
	copy(key[:], digest[:KeySize])
	return key
}

// Seal encrypts plaintext under key using ChaCha20-Poly1305 with the given
// nonce and associated data.
func Seal(key [KeySize]byte, nonce [NonceSize]byte, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, x3dherr.New("crypto.Seal", x3dherr.BadEncoding, err)
	}
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

// Open decrypts ciphertext under key, verifying it against ad and nonce.
// Failure is always reported as BadCiphertext: there is no partial-trust
// outcome for a failed AEAD tag check.
func Open(key [KeySize]byte, nonce [NonceSize]byte, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, x3dherr.New("crypto.Open", x3dherr.BadEncoding, err)
	}
	pt, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, x3dherr.New("crypto.Open", x3dherr.BadCiphertext, err)
	}
	return pt, nil
}

// InitialMessageNonce is the fixed all-zero nonce used for the single-use
// initial message. It is safe only because a session key derived by X3DH is
// never reused to seal a second message; any protocol built on top of this
// core that wants to send more than one message needs its own ratchet.
func InitialMessageNonce() [NonceSize]byte {
	return [NonceSize]byte{}
}

// IdentityPublicToX25519 projects an Ed25519 verifying key onto its
// Montgomery-form X25519 public key by decompressing the Edwards point and
// taking its Montgomery-u coordinate, per RFC 8032's correspondence between
// the two curve models.
func IdentityPublicToX25519(pub ed25519.PublicKey) ([KeySize]byte, error) {
	var out [KeySize]byte
	if len(pub) != ed25519.PublicKeySize {
		return out, x3dherr.New("crypto.IdentityPublicToX25519", x3dherr.BadEncoding, fmt.Errorf("bad ed25519 public key length %d", len(pub)))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return out, x3dherr.New("crypto.IdentityPublicToX25519", x3dherr.BadEncoding, err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// IdentitySecretToX25519 projects an Ed25519 signing key onto the X25519
// scalar that RFC 8032 section 5.1.5 derives internally: hash the 32-byte
// seed with SHA-512 and clamp the low half.
func IdentitySecretToX25519(priv ed25519.PrivateKey) ([KeySize]byte, error) {
	var out [KeySize]byte
	if len(priv) != ed25519.PrivateKeySize {
		return out, x3dherr.New("crypto.IdentitySecretToX25519", x3dherr.BadEncoding, fmt.Errorf("bad ed25519 private key length %d", len(priv)))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(out[:], h[:KeySize])
	return out, nil
}
