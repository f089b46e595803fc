package signer_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"gopkg.in/yaml.v3"

	"github.com/signetd/signet/internal/keyring"
	"github.com/signetd/signet/internal/profile"
	"github.com/signetd/signet/internal/profile/repositoryimpl"
	"github.com/signetd/signet/internal/signer"
	"github.com/signetd/signet/pkg/storage"
)

const (
	testKeyHex  = "1111111111111111111111111111111111111111111111111111111111111111"
	peerKeyHex  = "2222222222222222222222222222222222222222222222222222222222222222"
	relayURL    = "wss://relay.example.com"
	testContent = "hello world"
)

func newService(t *testing.T, p *profile.Profile) *signer.Service {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(context.Background(), repositoryimpl.ProfilePath, data); err != nil {
		t.Fatal(err)
	}
	repo := repositoryimpl.NewYAMLRepository(s)
	keys := keyring.New(repo)
	if err := keys.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return signer.New(keys, repo)
}

func TestRespondGetPublicKey(t *testing.T) {
	svc := newService(t, &profile.Profile{PrivateKey: testKeyHex})

	got, err := svc.Respond(context.Background(), signer.TypeGetPublicKey, nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	pub, ok := got.(string)
	if !ok {
		t.Fatalf("Respond() = %T, want string", got)
	}
	if len(pub) != 64 {
		t.Errorf("public key length = %d, want 64 hex chars", len(pub))
	}
	if _, err := hex.DecodeString(pub); err != nil {
		t.Errorf("public key is not hex: %v", err)
	}
}

func TestRespondGetRelays(t *testing.T) {
	svc := newService(t, &profile.Profile{
		PrivateKey: testKeyHex,
		Relays:     []profile.Relay{{URL: relayURL}},
	})

	got, err := svc.Respond(context.Background(), signer.TypeGetRelays, nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	relays, ok := got.([]profile.Relay)
	if !ok {
		t.Fatalf("Respond() = %T, want []profile.Relay", got)
	}
	if len(relays) != 1 || relays[0].URL != relayURL {
		t.Errorf("relays = %+v", relays)
	}
}

func TestRespondSignEvent(t *testing.T) {
	svc := newService(t, &profile.Profile{PrivateKey: testKeyHex})

	data, _ := json.Marshal(map[string]any{
		"kind":       1,
		"created_at": 1700000000,
		"content":    testContent,
	})
	got, err := svc.Respond(context.Background(), signer.TypeSignEvent, data)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	ev, ok := got.(*signer.Event)
	if !ok {
		t.Fatalf("Respond() = %T, want *signer.Event", got)
	}

	if ev.PubKey == "" {
		t.Error("pubkey not filled in")
	}
	if ev.Tags == nil {
		t.Error("tags not defaulted")
	}

	hash, err := ev.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != hex.EncodeToString(hash[:]) {
		t.Errorf("event id does not match serialization hash")
	}

	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		t.Fatalf("signature does not parse: %v", err)
	}
	pubBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		t.Fatalf("pubkey does not parse: %v", err)
	}
	if !sig.Verify(hash[:], pub) {
		t.Error("signature does not verify")
	}
}

func TestRespondSignEventKeepsPubKey(t *testing.T) {
	svc := newService(t, &profile.Profile{PrivateKey: testKeyHex})

	presetKey := strings.Repeat("ab", 32)
	data, _ := json.Marshal(map[string]any{"kind": 1, "pubkey": presetKey, "content": "x"})
	got, err := svc.Respond(context.Background(), signer.TypeSignEvent, data)
	if err != nil {
		t.Fatal(err)
	}
	if ev := got.(*signer.Event); ev.PubKey != presetKey {
		t.Errorf("pubkey = %q, want preset %q", ev.PubKey, presetKey)
	}
}

func TestRespondNIP04RoundTrip(t *testing.T) {
	alice := newService(t, &profile.Profile{PrivateKey: testKeyHex})
	bob := newService(t, &profile.Profile{PrivateKey: peerKeyHex})

	alicePubAny, err := alice.Respond(context.Background(), signer.TypeGetPublicKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	bobPubAny, err := bob.Respond(context.Background(), signer.TypeGetPublicKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	alicePub := alicePubAny.(string)
	bobPub := bobPubAny.(string)

	encParams, _ := json.Marshal(map[string]string{"peer": bobPub, "plaintext": testContent})
	encrypted, err := alice.Respond(context.Background(), signer.TypeNIP04Encrypt, encParams)
	if err != nil {
		t.Fatalf("encrypt error = %v", err)
	}
	ciphertext, ok := encrypted.(string)
	if !ok {
		t.Fatalf("encrypt = %T, want string", encrypted)
	}
	if !strings.Contains(ciphertext, "?iv=") {
		t.Fatalf("ciphertext %q missing iv separator", ciphertext)
	}

	decParams, _ := json.Marshal(map[string]string{"peer": alicePub, "ciphertext": ciphertext})
	decrypted, err := bob.Respond(context.Background(), signer.TypeNIP04Decrypt, decParams)
	if err != nil {
		t.Fatalf("decrypt error = %v", err)
	}
	if decrypted != testContent {
		t.Errorf("decrypt = %v, want %q", decrypted, testContent)
	}
}

func TestRespondNIP04EncryptBadPeer(t *testing.T) {
	svc := newService(t, &profile.Profile{PrivateKey: testKeyHex})

	params, _ := json.Marshal(map[string]string{"peer": "not-hex", "plaintext": "x"})
	got, err := svc.Respond(context.Background(), signer.TypeNIP04Encrypt, params)
	if err != nil {
		t.Fatalf("crypto failures must be embedded, got error %v", err)
	}
	opErr, ok := got.(signer.OpError)
	if !ok {
		t.Fatalf("Respond() = %T, want signer.OpError", got)
	}
	if opErr.Error.Message != "Error while encrypting data" {
		t.Errorf("message = %q", opErr.Error.Message)
	}
	if opErr.Error.Stack == "" {
		t.Error("stack is empty")
	}
}

func TestRespondNIP04DecryptGarbage(t *testing.T) {
	svc := newService(t, &profile.Profile{PrivateKey: testKeyHex})

	params, _ := json.Marshal(map[string]string{
		"peer":       strings.Repeat("ab", 32),
		"ciphertext": "definitely not encrypted",
	})
	got, err := svc.Respond(context.Background(), signer.TypeNIP04Decrypt, params)
	if err != nil {
		t.Fatalf("crypto failures must be embedded, got error %v", err)
	}
	opErr, ok := got.(signer.OpError)
	if !ok {
		t.Fatalf("Respond() = %T, want signer.OpError", got)
	}
	if opErr.Error.Message != "Error while decrypting data" {
		t.Errorf("message = %q", opErr.Error.Message)
	}
}

func TestRespondUnknownType(t *testing.T) {
	svc := newService(t, &profile.Profile{PrivateKey: testKeyHex})

	got, err := svc.Respond(context.Background(), "nip44.encrypt", nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got != nil {
		t.Errorf("Respond() = %v, want nil for unknown type", got)
	}
}

func TestRespondNoKey(t *testing.T) {
	svc := newService(t, &profile.Profile{})

	if _, err := svc.Respond(context.Background(), signer.TypeGetPublicKey, nil); err == nil {
		t.Error("getPublicKey without a key should fail")
	}
	data, _ := json.Marshal(map[string]any{"kind": 1, "content": "x"})
	if _, err := svc.Respond(context.Background(), signer.TypeSignEvent, data); err == nil {
		t.Error("signEvent without a key should fail")
	}
}
