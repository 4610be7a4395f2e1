// Package security provides order hashing, signing, and the authenticator
// that decides whether an order was authorized by its signer.
// Identities are secp256k1 keys addressed the Ethereum way.
package security

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tutu-network/poco/internal/domain"
)

// Keypair holds a secp256k1 identity.
type Keypair struct {
	Private *ecdsa.PrivateKey
	address common.Address
}

// GenerateKeypair creates a new secp256k1 keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 keypair: %w", err)
	}
	return newKeypair(priv), nil
}

// KeypairFromHex loads a keypair from a hex-encoded private key.
func KeypairFromHex(s string) (*Keypair, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return newKeypair(priv), nil
}

func newKeypair(priv *ecdsa.PrivateKey) *Keypair {
	return &Keypair{Private: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}
}

// LoadOrCreateKeypair loads an existing keypair from disk, or generates
// a new one on first run. Keys are stored in home/keys/.
func LoadOrCreateKeypair(home string) (*Keypair, error) {
	keyDir := filepath.Join(home, "keys")
	privPath := filepath.Join(keyDir, "node.key")

	if privBytes, err := os.ReadFile(privPath); err == nil {
		return KeypairFromHex(string(privBytes))
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(kp.PrivateKeyHex()), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	addrPath := filepath.Join(keyDir, "node.addr")
	if err := os.WriteFile(addrPath, []byte(kp.Address().Hex()), 0644); err != nil {
		return nil, fmt.Errorf("write address: %w", err)
	}

	return kp, nil
}

// Address returns the identity derived from the public key.
func (kp *Keypair) Address() common.Address { return kp.address }

// PrivateKeyHex returns the private key as a hex string.
func (kp *Keypair) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(kp.Private))
}

// SignHash signs a 32-byte digest. The recovery id is returned as 27/28.
func (kp *Keypair) SignHash(h common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(h.Bytes(), kp.Private)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignContribution authorizes worker to push a result for taskID.
func (kp *Keypair) SignContribution(worker common.Address, taskID common.Hash, enclave common.Address) ([]byte, error) {
	return kp.SignHash(ContributionHash(worker, taskID, enclave))
}

// SignEnclave attests a result digest on behalf of an enclave key.
func (kp *Keypair) SignEnclave(worker common.Address, taskID, resultDigest common.Hash) ([]byte, error) {
	return kp.SignHash(EnclaveHash(worker, taskID, resultDigest))
}

// SignResult binds resultDigest to taskID as the submitting worker.
func (kp *Keypair) SignResult(taskID, resultDigest common.Hash) ([]byte, error) {
	return kp.SignHash(ResultHash(taskID, resultDigest))
}

// SignAppOrder fills o.Sign.
func (kp *Keypair) SignAppOrder(h *Hasher, o *domain.AppOrder) error {
	sig, err := kp.SignHash(h.AppOrder(o))
	o.Sign = sig
	return err
}

// SignDatasetOrder fills o.Sign.
func (kp *Keypair) SignDatasetOrder(h *Hasher, o *domain.DatasetOrder) error {
	sig, err := kp.SignHash(h.DatasetOrder(o))
	o.Sign = sig
	return err
}

// SignWorkerpoolOrder fills o.Sign.
func (kp *Keypair) SignWorkerpoolOrder(h *Hasher, o *domain.WorkerpoolOrder) error {
	sig, err := kp.SignHash(h.WorkerpoolOrder(o))
	o.Sign = sig
	return err
}

// SignRequestOrder fills o.Sign.
func (kp *Keypair) SignRequestOrder(h *Hasher, o *domain.RequestOrder) error {
	sig, err := kp.SignHash(h.RequestOrder(o))
	o.Sign = sig
	return err
}

// Recover returns the address that produced sig over h. Signatures with a
// high S value or a recovery id outside {0,1,27,28} are rejected.
func Recover(h common.Hash, sig []byte) (common.Address, bool) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, false
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	r := new(big.Int).SetBytes(s[:32])
	sv := new(big.Int).SetBytes(s[32:64])
	if !crypto.ValidateSignatureValues(s[64], r, sv, true) {
		return common.Address{}, false
	}
	pub, err := crypto.SigToPub(h.Bytes(), s)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}

// Verify checks that sig over h was produced by signer.
func Verify(signer common.Address, h common.Hash, sig []byte) bool {
	got, ok := Recover(h, sig)
	return ok && got == signer
}
