// Package store owns per-identity key material: the identity key, the
// current signed prekey, and the one-time prekey pool. It implements the
// exactly-once consumption guarantee concurrent fetches depend on,
// behind one capability interface shared by an in-memory backend and two
// persistent SQL backends.
package store

import (
	"context"
	"crypto/ed25519"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
)

// IdentityStore is the capability interface every backend implements.
// Implementations must make FetchBundle's OTK pop atomic with respect to
// concurrent callers: no two callers may ever observe the same OTK.
type IdentityStore interface {
	// SetSPK verifies spk under ik and upserts the identity's current
	// signed prekey, creating the identity if it is new.
	SetSPK(ctx context.Context, identity string, ik ed25519.PublicKey, spk bundle.SignedPreKey) error

	// PublishOTKBundle verifies batch under ik and appends its keys to
	// identity's one-time prekey pool. The identity must already exist
	// (via a prior SetSPK) or this returns UnknownIdentity.
	PublishOTKBundle(ctx context.Context, identity string, ik ed25519.PublicKey, batch bundle.OneTimePreKeys) error

	// FetchBundle returns identity's current bundle, popping one OTK
	// from its pool if any remain. Returns UnknownIdentity if identity
	// has never had a SetSPK.
	FetchBundle(ctx context.Context, identity string) (bundle.PreKeyBundle, error)

	// OTKPoolSize reports how many unused one-time prekeys remain for
	// identity, for the service façade to expose as a gauge. Returns 0,
	// nil for an identity that has never had a SetSPK, rather than an
	// error — the gauge has nothing useful to report either way.
	OTKPoolSize(ctx context.Context, identity string) (int, error)
}
