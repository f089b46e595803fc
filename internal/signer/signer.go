package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/signetd/signet/internal/keyring"
	"github.com/signetd/signet/internal/profile"
	"github.com/signetd/signet/pkg/cerr"
)

// Request type names understood by the signer.
const (
	TypeGetPublicKey = "getPublicKey"
	TypeGetRelays    = "getRelays"
	TypeSignEvent    = "signEvent"
	TypeNIP04Encrypt = "nip04.encrypt"
	TypeNIP04Decrypt = "nip04.decrypt"
)

const (
	msgEncryptionFailed = "Error while encrypting data"
	msgDecryptionFailed = "Error while decrypting data"
)

// OpError is a failure reported inside an otherwise successful response
// payload, so callers that granted permission still learn the operation
// itself failed.
type OpError struct {
	Error OpErrorBody `json:"error"`
}

type OpErrorBody struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Service performs the capability operations with the user's key.
type Service struct {
	keys     *keyring.Keyring
	profiles profile.Repository
}

func New(keys *keyring.Keyring, profiles profile.Repository) *Service {
	return &Service{keys: keys, profiles: profiles}
}

// Respond produces the response payload for a granted request. Payload
// parse failures and missing-key states return an error; cryptographic
// failures in the nip04 operations are returned as an embedded OpError
// payload with a nil error. Unknown request types answer null.
func (s *Service) Respond(ctx context.Context, reqType string, data []byte) (any, error) {
	switch reqType {
	case TypeGetPublicKey:
		return s.keys.PublicKeyHex()

	case TypeGetRelays:
		p, err := s.profiles.Get(ctx)
		if err != nil {
			return nil, err
		}
		relays := make([]profile.Relay, 0, len(p.Relays))
		relays = append(relays, p.Relays...)
		return relays, nil

	case TypeSignEvent:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, cerr.NewError(cerr.InvalidArgument, "invalid event payload", err)
		}
		if err := s.signEvent(&ev); err != nil {
			return nil, err
		}
		return &ev, nil

	case TypeNIP04Encrypt:
		var params struct {
			Peer      string `json:"peer"`
			Plaintext string `json:"plaintext"`
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, cerr.NewError(cerr.InvalidArgument, "invalid encrypt params", err)
		}
		key := s.keys.Key()
		if key == nil {
			return nil, cerr.NewError(cerr.FailedPrecondition, "no private key loaded", nil)
		}
		ciphertext, err := nip04Encrypt(key, params.Peer, params.Plaintext)
		if err != nil {
			return OpError{Error: OpErrorBody{Message: msgEncryptionFailed, Stack: err.Error()}}, nil
		}
		return ciphertext, nil

	case TypeNIP04Decrypt:
		var params struct {
			Peer       string `json:"peer"`
			Ciphertext string `json:"ciphertext"`
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, cerr.NewError(cerr.InvalidArgument, "invalid decrypt params", err)
		}
		key := s.keys.Key()
		if key == nil {
			return nil, cerr.NewError(cerr.FailedPrecondition, "no private key loaded", nil)
		}
		plaintext, err := nip04Decrypt(key, params.Peer, params.Ciphertext)
		if err != nil {
			return OpError{Error: OpErrorBody{Message: msgDecryptionFailed, Stack: err.Error()}}, nil
		}
		return plaintext, nil

	default:
		return nil, nil
	}
}

func (s *Service) signEvent(ev *Event) error {
	key := s.keys.Key()
	if key == nil {
		return cerr.NewError(cerr.FailedPrecondition, "no private key loaded", nil)
	}
	if ev.PubKey == "" {
		ev.PubKey = hex.EncodeToString(key.PubKey().SerializeCompressed()[1:])
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	hash, err := ev.Hash()
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to serialize event", err)
	}
	sig, err := schnorr.Sign(key, hash[:])
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to sign event", err)
	}
	ev.ID = hex.EncodeToString(hash[:])
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
