package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dayandersen/brongnal/internal/bundle"
)

// wireMessage is the JSON form a RedisRouter persists into a recipient's
// ZSET, mirroring the teacher's inbox.InboxMessage shape but carrying an
// X3DH initial message instead of a plaintext-shaped chat payload.
type wireMessage struct {
	ID                 uuid.UUID `json:"id"`
	SenderIdentityKeyX [32]byte  `json:"sender_ik_x"`
	EphemeralKey       [32]byte  `json:"ephemeral_key"`
	OTKUsed            *[32]byte `json:"otk_used,omitempty"`
	Ciphertext         []byte    `json:"ciphertext"`
}

func mailboxKey(identity string) string {
	return fmt.Sprintf("rendezvous:mailbox:%s", identity)
}

// RedisRouter persists mailboxes in Redis ZSETs keyed by recipient, with
// arrival order as the score, exactly as internal/inbox.RedisInbox does
// for chat messages. Live-channel attachment stays in-process: a live
// channel is inherently tied to whichever server instance holds the open
// stream, so there is nothing to persist about it.
type RedisRouter struct {
	client *redis.Client

	mu   sync.Mutex
	live map[string]chan<- Message
}

// NewRedisRouter wraps an existing Redis client.
func NewRedisRouter(client *redis.Client) *RedisRouter {
	return &RedisRouter{client: client, live: make(map[string]chan<- Message)}
}

func (r *RedisRouter) Send(ctx context.Context, msg Message) (SendResult, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	// The live hand-off is a non-blocking select, so it runs under the same
	// lock Retrieve takes to close a channel; a send can then never race a
	// close of the channel it is sending on.
	r.mu.Lock()
	if live, attached := r.live[msg.Recipient]; attached {
		select {
		case live <- msg:
			r.mu.Unlock()
			return SendResult{Delivered: true}, nil
		default:
			delete(r.live, msg.Recipient)
		}
	}
	r.mu.Unlock()

	wm := toWire(msg)
	data, err := json.Marshal(wm)
	if err != nil {
		return SendResult{}, fmt.Errorf("router: marshal message: %w", err)
	}

	key := mailboxKey(msg.Recipient)
	if err := r.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: string(data),
	}).Err(); err != nil {
		return SendResult{}, fmt.Errorf("router: enqueue message: %w", err)
	}

	depth, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return SendResult{}, fmt.Errorf("router: read mailbox depth: %w", err)
	}
	return SendResult{MailboxDepth: int(depth)}, nil
}

func (r *RedisRouter) Retrieve(ctx context.Context, identity string) (<-chan Message, error) {
	// Read and delete in one MULTI/EXEC so a message enqueued concurrently
	// is either part of this drain or left in the mailbox, never dropped.
	key := mailboxKey(identity)
	pipe := r.client.TxPipeline()
	rangeCmd := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"})
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("router: drain mailbox: %w", err)
	}
	results := rangeCmd.Val()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.live[identity]; ok {
		close(prev)
	}

	bufSize := streamBufferSize
	if len(results) > bufSize {
		bufSize = len(results)
	}
	ch := make(chan Message, bufSize)
	for _, data := range results {
		var wm wireMessage
		if err := json.Unmarshal([]byte(data), &wm); err != nil {
			continue
		}
		ch <- fromWire(identity, wm)
	}

	r.live[identity] = ch
	return ch, nil
}

func toWire(msg Message) wireMessage {
	return wireMessage{
		ID:                 msg.ID,
		SenderIdentityKeyX: msg.Initial.SenderIdentityKeyX,
		EphemeralKey:       msg.Initial.EphemeralKey,
		OTKUsed:            msg.Initial.OTKUsed,
		Ciphertext:         msg.Initial.Ciphertext,
	}
}

func fromWire(recipient string, wm wireMessage) Message {
	return Message{
		ID:        wm.ID,
		Recipient: recipient,
		Initial: bundle.InitialMessage{
			SenderIdentityKeyX: wm.SenderIdentityKeyX,
			EphemeralKey:       wm.EphemeralKey,
			OTKUsed:            wm.OTKUsed,
			Ciphertext:         wm.Ciphertext,
		},
	}
}
