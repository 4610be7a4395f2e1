package security

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tutu-network/poco/internal/domain"
)

// ─── EIP-712 Type Strings ───────────────────────────────────────────────────
// Field order is part of the identity: changing it changes every order hash.

const (
	DomainType          = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	AppOrderType        = "AppOrder(address app,uint256 appprice,uint256 volume,bytes32 tag,address datasetrestrict,address workerpoolrestrict,address requesterrestrict,bytes32 salt)"
	DatasetOrderType    = "DatasetOrder(address dataset,uint256 datasetprice,uint256 volume,bytes32 tag,address apprestrict,address workerpoolrestrict,address requesterrestrict,bytes32 salt)"
	WorkerpoolOrderType = "WorkerpoolOrder(address workerpool,uint256 workerpoolprice,uint256 volume,bytes32 tag,uint256 category,uint256 trust,address apprestrict,address datasetrestrict,address requesterrestrict,bytes32 salt)"
	RequestOrderType    = "RequestOrder(address app,uint256 appmaxprice,address dataset,uint256 datasetmaxprice,address workerpool,uint256 workerpoolmaxprice,address requester,uint256 volume,bytes32 tag,uint256 category,uint256 trust,address beneficiary,address callback,string params,bytes32 salt)"
)

var (
	domainTypeHash          = crypto.Keccak256Hash([]byte(DomainType))
	appOrderTypeHash        = crypto.Keccak256Hash([]byte(AppOrderType))
	datasetOrderTypeHash    = crypto.Keccak256Hash([]byte(DatasetOrderType))
	workerpoolOrderTypeHash = crypto.Keccak256Hash([]byte(WorkerpoolOrderType))
	requestOrderTypeHash    = crypto.Keccak256Hash([]byte(RequestOrderType))
)

// Domain separates order hashes of one deployment from every other.
type Domain struct {
	Name              string         `toml:"name"`
	Version           string         `toml:"version"`
	ChainID           uint64         `toml:"chain_id"`
	VerifyingContract common.Address `toml:"verifying_contract"`
}

// Hasher computes order identity hashes under a fixed domain.
type Hasher struct {
	domain    Domain
	separator common.Hash
}

// NewHasher precomputes the domain separator.
func NewHasher(d Domain) *Hasher {
	sep := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		uintWord(d.ChainID),
		addressWord(d.VerifyingContract),
	)
	return &Hasher{domain: d, separator: sep}
}

// Separator returns the EIP-712 domain separator.
func (h *Hasher) Separator() common.Hash { return h.separator }

// Domain returns the domain the hasher was built with.
func (h *Hasher) Domain() Domain { return h.domain }

// typed wraps a struct hash as keccak256(0x1901 ‖ separator ‖ structHash).
func (h *Hasher) typed(structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, h.separator.Bytes(), structHash.Bytes())
}

// AppOrder returns the order's identity hash.
func (h *Hasher) AppOrder(o *domain.AppOrder) common.Hash {
	return h.typed(crypto.Keccak256Hash(
		appOrderTypeHash.Bytes(),
		addressWord(o.App),
		uintWord(o.AppPrice),
		uintWord(o.Volume),
		o.Tag[:],
		addressWord(o.DatasetRestrict),
		addressWord(o.WorkerpoolRestrict),
		addressWord(o.RequesterRestrict),
		o.Salt.Bytes(),
	))
}

// DatasetOrder returns the order's identity hash.
func (h *Hasher) DatasetOrder(o *domain.DatasetOrder) common.Hash {
	return h.typed(crypto.Keccak256Hash(
		datasetOrderTypeHash.Bytes(),
		addressWord(o.Dataset),
		uintWord(o.DatasetPrice),
		uintWord(o.Volume),
		o.Tag[:],
		addressWord(o.AppRestrict),
		addressWord(o.WorkerpoolRestrict),
		addressWord(o.RequesterRestrict),
		o.Salt.Bytes(),
	))
}

// WorkerpoolOrder returns the order's identity hash.
func (h *Hasher) WorkerpoolOrder(o *domain.WorkerpoolOrder) common.Hash {
	return h.typed(crypto.Keccak256Hash(
		workerpoolOrderTypeHash.Bytes(),
		addressWord(o.Workerpool),
		uintWord(o.WorkerpoolPrice),
		uintWord(o.Volume),
		o.Tag[:],
		uintWord(o.Category),
		uintWord(o.Trust),
		addressWord(o.AppRestrict),
		addressWord(o.DatasetRestrict),
		addressWord(o.RequesterRestrict),
		o.Salt.Bytes(),
	))
}

// RequestOrder returns the order's identity hash.
func (h *Hasher) RequestOrder(o *domain.RequestOrder) common.Hash {
	return h.typed(crypto.Keccak256Hash(
		requestOrderTypeHash.Bytes(),
		addressWord(o.App),
		uintWord(o.AppMaxPrice),
		addressWord(o.Dataset),
		uintWord(o.DatasetMaxPrice),
		addressWord(o.Workerpool),
		uintWord(o.WorkerpoolMaxPrice),
		addressWord(o.Requester),
		uintWord(o.Volume),
		o.Tag[:],
		uintWord(o.Category),
		uintWord(o.Trust),
		addressWord(o.Beneficiary),
		addressWord(o.Callback),
		crypto.Keccak256([]byte(o.Params)),
		o.Salt.Bytes(),
	))
}

// EthSignedHash applies the "\x19Ethereum Signed Message:\n32" prefix used by
// contribution authorizations and enclave attestations.
func EthSignedHash(h common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), h.Bytes())
}

// ContributionHash is what the workerpool owner (or broker) signs to let
// worker submit a result for task under the given enclave.
func ContributionHash(worker common.Address, taskID common.Hash, enclave common.Address) common.Hash {
	return EthSignedHash(crypto.Keccak256Hash(worker.Bytes(), taskID.Bytes(), enclave.Bytes()))
}

// EnclaveHash is what the enclave signs to attest a result digest.
func EnclaveHash(worker common.Address, taskID, resultDigest common.Hash) common.Hash {
	return EthSignedHash(crypto.Keccak256Hash(worker.Bytes(), taskID.Bytes(), resultDigest.Bytes()))
}

// ResultHash is what the worker signs to bind a result digest to task.
func ResultHash(taskID, resultDigest common.Hash) common.Hash {
	return EthSignedHash(crypto.Keccak256Hash(taskID.Bytes(), resultDigest.Bytes()))
}

func uintWord(v uint64) []byte {
	return math.U256Bytes(new(big.Int).SetUint64(v))
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
