// Command rendezvousctl is a thin demonstration client for the rendezvous
// server: it registers an identity, publishes one-time prekeys, fetches a
// peer's bundle, and exchanges one X3DH initial message end to end. It
// exists to exercise the wire protocol by hand, not as a real client.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/dayandersen/brongnal/internal/bundle"
	"github.com/dayandersen/brongnal/internal/crypto"
	"github.com/dayandersen/brongnal/internal/x3dh"
)

func main() {
	addr := flag.String("addr", "http://localhost:8443", "rendezvous server base URL")
	flag.Parse()

	bob := "Bob"
	alice := "Alice"

	bobIK, bobIKSecret, err := crypto.GenerateSigningKeyPair()
	must(err)
	bobSPKPub, bobSPKSecret, err := crypto.GenerateDHKeyPair()
	must(err)
	bobSPK := bundle.SignSPK(bobIKSecret, bobSPKPub)

	must(postJSON(*addr+"/v1/bundles/"+bob+"/spk", map[string]interface{}{
		"identity":     bob,
		"identity_key": []byte(bobIK),
		"spk":          bobSPK,
	}))
	fmt.Printf("%s registered identity key and signed prekey\n", bob)

	otkPub, otkSecret, err := crypto.GenerateDHKeyPair()
	must(err)
	otkBatch := bundle.SignOTKBatch(bobIKSecret, [][32]byte{otkPub})

	must(postJSON(*addr+"/v1/bundles/"+bob+"/otk", map[string]interface{}{
		"identity":     bob,
		"identity_key": []byte(bobIK),
		"batch":        otkBatch,
	}))
	fmt.Printf("%s published one one-time prekey\n", bob)

	var fetched bundle.PreKeyBundle
	must(getJSON(*addr+"/v1/bundles/"+bob, &fetched))
	fmt.Printf("%s fetched %s's bundle\n", alice, bob)

	aliceIK, aliceIKSecret, err := crypto.GenerateSigningKeyPair()
	must(err)
	_ = aliceIK

	_, initial, err := x3dh.InitiateSend(fetched, aliceIKSecret, []byte("Hi Bob"))
	must(err)

	must(postJSON(*addr+"/v1/messages", map[string]interface{}{
		"recipient": bob,
		"initial":   initial,
	}))
	fmt.Printf("%s sent an initial message to %s\n", alice, bob)

	recvKey, plaintext, err := x3dh.InitiateRecv(bobIKSecret, bobSPKSecret, initial, &otkSecret)
	must(err)
	_ = recvKey

	fmt.Printf("%s decrypted: %s\n", bob, string(plaintext))
}

func postJSON(url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
