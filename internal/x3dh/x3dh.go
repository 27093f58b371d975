// Package x3dh implements the Extended Triple Diffie-Hellman key
// agreement: sender-side derivation of a session key and initial
// ciphertext from a recipient's prekey bundle, and receiver-side
// reconstruction of that same session key from the initial message.
//
// The four Diffie-Hellman values are always combined in the fixed order
// DH1, DH2, DH3, DH4 (DH4 only when a one-time prekey was used) before
// being fed to the key derivation function; swapping any two breaks
// interoperability with a conforming peer.
package x3dh

import (
	"crypto/ed25519"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

// SessionKey is the 32-byte secret X3DH derives; it is single-use and
// feeds exactly one AEAD-sealed initial message.
type SessionKey = [crypto.KeySize]byte

// InitiateSend runs the sender's half of X3DH against bundle, encrypting
// plaintext for the bundle's owner and returning both the derived session
// key (useful to callers layering a ratchet on top, out of scope here) and
// the initial message to transmit.
func InitiateSend(b bundle.PreKeyBundle, senderSigningKey ed25519.PrivateKey, plaintext []byte) (SessionKey, bundle.InitialMessage, error) {
	var zero SessionKey

	if err := bundle.VerifySPK(b.IdentityKey, b.SPK); err != nil {
		return zero, bundle.InitialMessage{}, err
	}

	senderIKx, err := crypto.IdentitySecretToX25519(senderSigningKey)
	if err != nil {
		return zero, bundle.InitialMessage{}, x3dherr.New("x3dh.InitiateSend", x3dherr.BadEncoding, err)
	}
	senderIKxPub, err := crypto.IdentityPublicToX25519(senderSigningKey.Public().(ed25519.PublicKey))
	if err != nil {
		return zero, bundle.InitialMessage{}, x3dherr.New("x3dh.InitiateSend", x3dherr.BadEncoding, err)
	}

	recipientIKx, err := crypto.IdentityPublicToX25519(b.IdentityKey)
	if err != nil {
		return zero, bundle.InitialMessage{}, x3dherr.New("x3dh.InitiateSend", x3dherr.BadEncoding, err)
	}

	ekPub, ekSecret, err := crypto.GenerateDHKeyPair()
	if err != nil {
		return zero, bundle.InitialMessage{}, x3dherr.New("x3dh.InitiateSend", x3dherr.Transient, err)
	}

	dh1, err := crypto.DH(senderIKx, b.SPK.PreKey)
	if err != nil {
		return zero, bundle.InitialMessage{}, err
	}
	dh2, err := crypto.DH(ekSecret, recipientIKx)
	if err != nil {
		return zero, bundle.InitialMessage{}, err
	}
	dh3, err := crypto.DH(ekSecret, b.SPK.PreKey)
	if err != nil {
		return zero, bundle.InitialMessage{}, err
	}

	inputs := [][]byte{dh1[:], dh2[:], dh3[:]}
	var otkUsed *[crypto.KeySize]byte
	if b.OTK != nil {
		dh4, err := crypto.DH(ekSecret, *b.OTK)
		if err != nil {
			return zero, bundle.InitialMessage{}, err
		}
		inputs = append(inputs, dh4[:])
		otk := *b.OTK
		otkUsed = &otk
	}

	sessionKey := crypto.KDF(inputs...)
	ad := append(append([]byte{}, senderIKxPub[:]...), recipientIKx[:]...)
	ciphertext, err := crypto.Seal(sessionKey, crypto.InitialMessageNonce(), ad, plaintext)
	if err != nil {
		return zero, bundle.InitialMessage{}, err
	}

	msg := bundle.InitialMessage{
		SenderIdentityKeyX: senderIKxPub,
		EphemeralKey:       ekPub,
		OTKUsed:            otkUsed,
		Ciphertext:         ciphertext,
	}
	return sessionKey, msg, nil
}

// InitiateRecv runs the receiver's half of X3DH against a received initial
// message. spkSecret is the receiver's current SPK secret; otkSecret, when
// non-nil, is the secret matching the OTK the sender claims to have used.
//
// If msg.OTKUsed is set but otkSecret is nil, the call fails with
// UnknownOTK rather than silently falling back to the 3-DH form: the
// sender derived its session key with four DH values, and a 3-DH
// reconstruction on this side would simply produce a non-matching key.
func InitiateRecv(recipientSigningKey ed25519.PrivateKey, spkSecret [crypto.KeySize]byte, msg bundle.InitialMessage, otkSecret *[crypto.KeySize]byte) (SessionKey, []byte, error) {
	var zero SessionKey

	if msg.OTKUsed != nil && otkSecret == nil {
		return zero, nil, x3dherr.New("x3dh.InitiateRecv", x3dherr.UnknownOTK, nil)
	}

	recipientIKx, err := crypto.IdentitySecretToX25519(recipientSigningKey)
	if err != nil {
		return zero, nil, x3dherr.New("x3dh.InitiateRecv", x3dherr.BadEncoding, err)
	}
	recipientIKxPub, err := crypto.IdentityPublicToX25519(recipientSigningKey.Public().(ed25519.PublicKey))
	if err != nil {
		return zero, nil, x3dherr.New("x3dh.InitiateRecv", x3dherr.BadEncoding, err)
	}

	dh1, err := crypto.DH(spkSecret, msg.SenderIdentityKeyX)
	if err != nil {
		return zero, nil, err
	}
	dh2, err := crypto.DH(recipientIKx, msg.EphemeralKey)
	if err != nil {
		return zero, nil, err
	}
	dh3, err := crypto.DH(spkSecret, msg.EphemeralKey)
	if err != nil {
		return zero, nil, err
	}

	inputs := [][]byte{dh1[:], dh2[:], dh3[:]}
	if otkSecret != nil {
		dh4, err := crypto.DH(*otkSecret, msg.EphemeralKey)
		if err != nil {
			return zero, nil, err
		}
		inputs = append(inputs, dh4[:])
	}

	sessionKey := crypto.KDF(inputs...)
	ad := append(append([]byte{}, msg.SenderIdentityKeyX[:]...), recipientIKxPub[:]...)
	plaintext, err := crypto.Open(sessionKey, crypto.InitialMessageNonce(), ad, msg.Ciphertext)
	if err != nil {
		return zero, nil, err
	}
	return sessionKey, plaintext, nil
}
