package router

import (
	"context"
	"sync"
	"testing"

	"github.com/dayandersen/brongnal/internal/bundle"
)

func testMessage(recipient string, tag byte) Message {
	return Message{
		Recipient: recipient,
		Initial:   bundle.InitialMessage{Ciphertext: []byte{tag}},
	}
}

func TestSendThenRetrieveDeliversFromMailbox(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRouter()

	if _, err := r.Send(ctx, testMessage("bob", 1)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ch, err := r.Retrieve(ctx, "bob")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	got := <-ch
	if got.Initial.Ciphertext[0] != 1 {
		t.Fatalf("got tag %d, want 1", got.Initial.Ciphertext[0])
	}
}

func TestMailboxIsFIFO(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRouter()

	for i := byte(1); i <= 3; i++ {
		if _, err := r.Send(ctx, testMessage("bob", i)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	ch, err := r.Retrieve(ctx, "bob")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for i := byte(1); i <= 3; i++ {
		got := <-ch
		if got.Initial.Ciphertext[0] != i {
			t.Fatalf("message %d out of order: got tag %d", i, got.Initial.Ciphertext[0])
		}
	}
}

func TestLiveDeliveryPreferredOverMailbox(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRouter()

	ch, err := r.Retrieve(ctx, "bob")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if _, err := r.Send(ctx, testMessage("bob", 9)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := <-ch
	if got.Initial.Ciphertext[0] != 9 {
		t.Fatalf("got tag %d, want 9", got.Initial.Ciphertext[0])
	}
}

func TestSendResultReportsDeliveryPathAndMailboxDepth(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRouter()

	res, err := r.Send(ctx, testMessage("bob", 1))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Delivered {
		t.Fatal("expected enqueued delivery with no live channel attached")
	}
	if res.MailboxDepth != 1 {
		t.Fatalf("MailboxDepth = %d, want 1", res.MailboxDepth)
	}

	res, err = r.Send(ctx, testMessage("bob", 2))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MailboxDepth != 2 {
		t.Fatalf("MailboxDepth = %d, want 2", res.MailboxDepth)
	}

	ch, err := r.Retrieve(ctx, "bob")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	<-ch // drain so the live channel has room

	res, err = r.Send(ctx, testMessage("bob", 3))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Delivered {
		t.Fatal("expected live delivery once a retrieve has attached a channel")
	}
	if res.MailboxDepth != 0 {
		t.Fatalf("MailboxDepth = %d, want 0 for a live delivery", res.MailboxDepth)
	}
}

func TestRetrieveDetachesPriorLiveChannel(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRouter()

	first, err := r.Retrieve(ctx, "bob")
	if err != nil {
		t.Fatalf("Retrieve 1: %v", err)
	}

	second, err := r.Retrieve(ctx, "bob")
	if err != nil {
		t.Fatalf("Retrieve 2: %v", err)
	}

	if _, open := <-first; open {
		t.Fatal("expected the first stream to be closed once a second retrieve attaches")
	}

	if _, err := r.Send(ctx, testMessage("bob", 5)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := <-second
	if got.Initial.Ciphertext[0] != 5 {
		t.Fatal("expected new stream to receive the message")
	}
}

func TestConcurrentSendsArePartitionedByRecipient(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRouter()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i byte) {
			defer wg.Done()
			_, _ = r.Send(ctx, testMessage("alice", i))
		}(byte(i))
		go func(i byte) {
			defer wg.Done()
			_, _ = r.Send(ctx, testMessage("bob", i))
		}(byte(i))
	}
	wg.Wait()

	aliceCh, err := r.Retrieve(ctx, "alice")
	if err != nil {
		t.Fatalf("Retrieve alice: %v", err)
	}
	count := 0
	for {
		select {
		case <-aliceCh:
			count++
		default:
			if count != 20 {
				t.Fatalf("alice got %d messages, want 20", count)
			}
			return
		}
	}
}
