package security

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/domain"
)

// SignerKind selects the verification strategy for a signer.
type SignerKind int

const (
	SignerExternal SignerKind = iota // externally-owned key
	SignerContract                   // validated by the signature oracle
)

// Verifier is one way of proving that signer authorized hash.
type Verifier interface {
	Verify(tx domain.Tx, signer common.Address, hash common.Hash, sig []byte) (bool, error)
}

// PresignVerifier accepts hashes the signer recorded through ManageOrder.
type PresignVerifier struct{}

func (PresignVerifier) Verify(tx domain.Tx, signer common.Address, hash common.Hash, _ []byte) (bool, error) {
	by, ok, err := tx.Presigned(hash)
	if err != nil {
		return false, fmt.Errorf("read presign: %w", err)
	}
	return ok && by == signer, nil
}

// OracleVerifier delegates to the contract signature oracle.
type OracleVerifier struct {
	Oracle domain.SignatureOracle
}

func (v OracleVerifier) Verify(_ domain.Tx, signer common.Address, hash common.Hash, sig []byte) (bool, error) {
	if v.Oracle == nil {
		return false, nil
	}
	return v.Oracle.IsValidSignature(signer, hash, sig), nil
}

// ECDSAVerifier recovers the signer from a 65-byte secp256k1 signature.
type ECDSAVerifier struct{}

func (ECDSAVerifier) Verify(_ domain.Tx, signer common.Address, hash common.Hash, sig []byte) (bool, error) {
	return Verify(signer, hash, sig), nil
}

// Authenticator decides whether an order, contribution, or attestation was
// authorized by the expected signer. A presign record is honored for every
// signer kind; otherwise contract signers go to the oracle and external
// signers to ECDSA recovery.
type Authenticator struct {
	hasher  *Hasher
	oracle  domain.SignatureOracle
	presign Verifier
	byKind  map[SignerKind]Verifier
}

// NewAuthenticator wires the three strategies. oracle may be nil, in which
// case every signer is treated as an external key.
func NewAuthenticator(h *Hasher, oracle domain.SignatureOracle) *Authenticator {
	return &Authenticator{
		hasher:  h,
		oracle:  oracle,
		presign: PresignVerifier{},
		byKind: map[SignerKind]Verifier{
			SignerExternal: ECDSAVerifier{},
			SignerContract: OracleVerifier{Oracle: oracle},
		},
	}
}

// Hasher returns the order hasher.
func (a *Authenticator) Hasher() *Hasher { return a.hasher }

// KindOf classifies signer.
func (a *Authenticator) KindOf(signer common.Address) SignerKind {
	if a.oracle != nil && a.oracle.IsContract(signer) {
		return SignerContract
	}
	return SignerExternal
}

// CheckHash returns nil if signer authorized hash via any accepted path.
func (a *Authenticator) CheckHash(tx domain.Tx, signer common.Address, hash common.Hash, sig []byte) error {
	if signer == (common.Address{}) {
		return domain.ErrInvalidSignature
	}
	ok, err := a.presign.Verify(tx, signer, hash, sig)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	ok, err = a.byKind[a.KindOf(signer)].Verify(tx, signer, hash, sig)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidSignature
	}
	return nil
}

// CheckDetached validates a signature that has no presign path, such as a
// contribution authorization or an enclave attestation.
func (a *Authenticator) CheckDetached(signer common.Address, hash common.Hash, sig []byte) bool {
	if signer == (common.Address{}) {
		return false
	}
	ok, _ := a.byKind[a.KindOf(signer)].Verify(nil, signer, hash, sig)
	return ok
}

// AppOrder authenticates o for signer and returns its identity hash.
func (a *Authenticator) AppOrder(tx domain.Tx, o *domain.AppOrder, signer common.Address) (common.Hash, error) {
	h := a.hasher.AppOrder(o)
	if err := a.CheckHash(tx, signer, h, o.Sign); err != nil {
		return h, fmt.Errorf("app order %s: %w", h.Hex(), err)
	}
	return h, nil
}

// DatasetOrder authenticates o for signer and returns its identity hash.
func (a *Authenticator) DatasetOrder(tx domain.Tx, o *domain.DatasetOrder, signer common.Address) (common.Hash, error) {
	h := a.hasher.DatasetOrder(o)
	if err := a.CheckHash(tx, signer, h, o.Sign); err != nil {
		return h, fmt.Errorf("dataset order %s: %w", h.Hex(), err)
	}
	return h, nil
}

// WorkerpoolOrder authenticates o for signer and returns its identity hash.
func (a *Authenticator) WorkerpoolOrder(tx domain.Tx, o *domain.WorkerpoolOrder, signer common.Address) (common.Hash, error) {
	h := a.hasher.WorkerpoolOrder(o)
	if err := a.CheckHash(tx, signer, h, o.Sign); err != nil {
		return h, fmt.Errorf("workerpool order %s: %w", h.Hex(), err)
	}
	return h, nil
}

// RequestOrder authenticates o against its requester and returns its
// identity hash.
func (a *Authenticator) RequestOrder(tx domain.Tx, o *domain.RequestOrder) (common.Hash, error) {
	h := a.hasher.RequestOrder(o)
	if err := a.CheckHash(tx, o.Requester, h, o.Sign); err != nil {
		return h, fmt.Errorf("request order %s: %w", h.Hex(), err)
	}
	return h, nil
}
