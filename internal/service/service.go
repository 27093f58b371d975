// Package service is the façade the transport layer calls into: it
// translates the five rendezvous operations onto the identity store and
// router, and maps error kinds to metrics and security log lines. It
// returns x3dherr errors unchanged in kind; the mapping of kinds to HTTP
// status lives in internal/transport, not here.
package service

import (
	"context"
	"crypto/ed25519"

	"github.com/google/uuid"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/metrics"
	"github.com/dayandersen/brongnal/internal/rendezvouslog"
	"github.com/dayandersen/brongnal/internal/router"
	"github.com/dayandersen/brongnal/internal/store"
	"github.com/dayandersen/brongnal/internal/x3dherr"
)

// Service wires an IdentityStore and a Router behind the five operations
// the transport layer exposes.
type Service struct {
	Store  store.IdentityStore
	Router router.Router
	Log    *rendezvouslog.Logger
}

// New constructs a Service over the given backends.
func New(s store.IdentityStore, r router.Router, log *rendezvouslog.Logger) *Service {
	return &Service{Store: s, Router: r, Log: log}
}

// RegisterPreKeyBundle publishes identity's identity key and current
// signed prekey.
func (svc *Service) RegisterPreKeyBundle(ctx context.Context, identity string, ik ed25519.PublicKey, spk bundle.SignedPreKey) error {
	if err := svc.Store.SetSPK(ctx, identity, ik, spk); err != nil {
		if matchesKind(err, x3dherr.BadSignature) {
			metrics.RecordBundleVerificationFailure("register_prekey_bundle")
		}
		svc.logFailure("RegisterPreKeyBundle", identity, err)
		return err
	}
	svc.Log.Printf("[service] registered SPK for %s", identity)
	return nil
}

// PublishOTKBundle appends a batch of one-time prekeys to identity's pool.
func (svc *Service) PublishOTKBundle(ctx context.Context, identity string, ik ed25519.PublicKey, batch bundle.OneTimePreKeys) error {
	if err := svc.Store.PublishOTKBundle(ctx, identity, ik, batch); err != nil {
		if matchesKind(err, x3dherr.BadSignature) {
			metrics.RecordBundleVerificationFailure("publish_otk_bundle")
		}
		svc.logFailure("PublishOTKBundle", identity, err)
		return err
	}
	svc.Log.Printf("[service] published %d OTKs for %s", len(batch.PreKeys), identity)

	if n, err := svc.Store.OTKPoolSize(ctx, identity); err == nil {
		metrics.OTKsRemaining.WithLabelValues(identity).Set(float64(n))
	}
	return nil
}

// FetchPreKeyBundle returns identity's current bundle, consuming one OTK
// if the pool is non-empty.
func (svc *Service) FetchPreKeyBundle(ctx context.Context, identity string) (bundle.PreKeyBundle, error) {
	b, err := svc.Store.FetchBundle(ctx, identity)
	if err != nil {
		svc.logFailure("FetchPreKeyBundle", identity, err)
		return bundle.PreKeyBundle{}, err
	}

	if b.OTK == nil {
		metrics.OTKPoolExhaustedTotal.Inc()
	}
	if n, err := svc.Store.OTKPoolSize(ctx, identity); err == nil {
		metrics.OTKsRemaining.WithLabelValues(identity).Set(float64(n))
	}
	return b, nil
}

// SendMessage hands msg to the router for delivery to recipient, returning
// the fresh message ID it assigns to msg so the caller can correlate it with
// whatever a recipient later streams out.
func (svc *Service) SendMessage(ctx context.Context, recipient string, msg bundle.InitialMessage) (uuid.UUID, error) {
	id := uuid.New()
	result, err := svc.Router.Send(ctx, router.Message{ID: id, Recipient: recipient, Initial: msg})
	if err != nil {
		svc.logFailure("SendMessage", recipient, err)
		return uuid.Nil, x3dherr.New("service.SendMessage", x3dherr.Transient, err)
	}

	if result.Delivered {
		metrics.RecordMessageDelivered("immediate")
		metrics.MailboxDepth.WithLabelValues(recipient).Set(0)
	} else {
		metrics.RecordMessageDelivered("enqueued")
		metrics.MailboxDepth.WithLabelValues(recipient).Set(float64(result.MailboxDepth))
	}
	return id, nil
}

// RetrieveMessages returns a channel streaming identity's queued and
// future messages until the caller stops reading.
func (svc *Service) RetrieveMessages(ctx context.Context, identity string) (<-chan router.Message, error) {
	ch, err := svc.Router.Retrieve(ctx, identity)
	if err != nil {
		svc.logFailure("RetrieveMessages", identity, err)
		return nil, x3dherr.New("service.RetrieveMessages", x3dherr.Transient, err)
	}

	// Retrieve drains the mailbox into ch immediately, so the queue this
	// gauge tracks is now empty.
	metrics.MailboxDepth.WithLabelValues(identity).Set(0)
	return ch, nil
}

func (svc *Service) logFailure(op, identity string, err error) {
	switch {
	case matchesKind(err, x3dherr.BadSignature):
		svc.Log.Security("%s: bad signature for %s: %v", op, identity, err)
	case matchesKind(err, x3dherr.UnknownOTK):
		svc.Log.Security("%s: unknown OTK referenced for %s: %v", op, identity, err)
	default:
		svc.Log.Printf("[service] %s failed for %s: %v", op, identity, err)
	}
}

func matchesKind(err error, kind x3dherr.Kind) bool {
	type kindHolder interface{ Is(error) bool }
	kh, ok := err.(kindHolder)
	return ok && kh.Is(kind)
}
