// Package bundle defines the wire shapes of identity keys, signed
// prekeys, one-time prekey batches, and fetched bundles, along with the
// single byte-exact rule used to sign and verify all of them.
package bundle

import (
	"crypto/ed25519"

	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

// SignedPreKey is a single X25519 public key with the Ed25519 signature
// over its own encoded form, produced by the owner of the matching
// identity key.
type SignedPreKey struct {
	PreKey    [crypto.KeySize]byte
	Signature [ed25519.SignatureSize]byte
}

// OneTimePreKeys is a batch of single-use X25519 publics, signed together
// as one unit: the signed input is the concatenation of the publics in
// publication order, not one signature per key.
type OneTimePreKeys struct {
	PreKeys   [][crypto.KeySize]byte
	Signature [ed25519.SignatureSize]byte
}

// PreKeyBundle is what a server hands back to a sender: an identity key,
// its current signed prekey, and optionally one freshly-consumed one-time
// prekey.
type PreKeyBundle struct {
	IdentityKey ed25519.PublicKey
	SPK         SignedPreKey
	OTK         *[crypto.KeySize]byte
}

// InitialMessage is the first ciphertext a sender produces for a
// recipient, carrying everything the recipient needs to re-derive the
// session key.
type InitialMessage struct {
	SenderIdentityKeyX [crypto.KeySize]byte
	EphemeralKey       [crypto.KeySize]byte
	OTKUsed            *[crypto.KeySize]byte
	Ciphertext         []byte
}

// concatPreKeys joins a slice of 32-byte public keys in order, the shared
// byte-exact rule every signature in this package is computed over.
func concatPreKeys(keys [][crypto.KeySize]byte) []byte {
	buf := make([]byte, 0, len(keys)*crypto.KeySize)
	for _, k := range keys {
		buf = append(buf, k[:]...)
	}
	return buf
}

// SignSPK signs a single signed-prekey public under ik's matching signing
// key, using the same single-element-batch concatenation rule SignOTKBatch
// uses for many keys.
func SignSPK(signingKey ed25519.PrivateKey, preKey [crypto.KeySize]byte) SignedPreKey {
	sig := crypto.Sign(signingKey, concatPreKeys([][crypto.KeySize]byte{preKey}))
	var spk SignedPreKey
	spk.PreKey = preKey
	copy(spk.Signature[:], sig)
	return spk
}

// VerifySPK checks that spk.Signature is a valid Ed25519 signature over
// spk.PreKey under ik.
func VerifySPK(ik ed25519.PublicKey, spk SignedPreKey) error {
	ok := crypto.Verify(ik, concatPreKeys([][crypto.KeySize]byte{spk.PreKey}), spk.Signature[:])
	if !ok {
		return x3dherr.New("bundle.VerifySPK", x3dherr.BadSignature, nil)
	}
	return nil
}

// SignOTKBatch signs a batch of one-time prekey publics as a single unit.
func SignOTKBatch(signingKey ed25519.PrivateKey, preKeys [][crypto.KeySize]byte) OneTimePreKeys {
	sig := crypto.Sign(signingKey, concatPreKeys(preKeys))
	batch := OneTimePreKeys{PreKeys: preKeys}
	copy(batch.Signature[:], sig)
	return batch
}

// VerifyOTKBatch checks that batch.Signature is a valid Ed25519 signature
// over the concatenation of batch.PreKeys, in order, under ik.
func VerifyOTKBatch(ik ed25519.PublicKey, batch OneTimePreKeys) error {
	ok := crypto.Verify(ik, concatPreKeys(batch.PreKeys), batch.Signature[:])
	if !ok {
		return x3dherr.New("bundle.VerifyOTKBatch", x3dherr.BadSignature, nil)
	}
	return nil
}

// VerifyBundle is the general form both VerifySPK and VerifyOTKBatch
// specialize: any batch of 32-byte publics, in declared order, verified
// against a single aggregate signature under ik.
func VerifyBundle(ik ed25519.PublicKey, preKeys [][crypto.KeySize]byte, signature [ed25519.SignatureSize]byte) error {
	if !crypto.Verify(ik, concatPreKeys(preKeys), signature[:]) {
		return x3dherr.New("bundle.VerifyBundle", x3dherr.BadSignature, nil)
	}
	return nil
}
