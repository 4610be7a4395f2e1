// Package testutil builds a fully-registered marketplace for tests: keys for
// every participant, registered assets, a category, and signed orders.
package testutil

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/infra/memstore"
	"github.com/tutu-network/poco/internal/infra/registry"
	"github.com/tutu-network/poco/internal/security"
)

// TestDomain is the EIP-712 domain used by tests.
var TestDomain = security.Domain{
	Name:              "iExecODB",
	Version:           "5.0.0",
	ChainID:           134,
	VerifyingContract: common.HexToAddress("0x3eca1B216A7DF1C7689aEb259fFB83ADFB894E7f"),
}

// Start is the logical time worlds begin at.
const Start uint64 = 1_700_000_000

// World is a marketplace with one app, one dataset, one workerpool, and one
// category, all owned by generated keys.
type World struct {
	Hasher   *security.Hasher
	Auth     *security.Authenticator
	Registry *registry.Static
	Store    *memstore.Store
	Policy   domain.Policy
	Category domain.Category

	AppOwner        *security.Keypair
	DatasetOwner    *security.Keypair
	WorkerpoolOwner *security.Keypair
	Requester       *security.Keypair
	Worker          *security.Keypair
	Enclave         *security.Keypair

	App        common.Address
	Dataset    common.Address
	Workerpool common.Address

	salt uint64
}

// Terms are the prices and volumes of the four orders a world signs.
type Terms struct {
	AppPrice        uint64
	DatasetPrice    uint64
	WorkerpoolPrice uint64

	AppVolume        uint64
	DatasetVolume    uint64
	WorkerpoolVolume uint64
	RequestVolume    uint64

	NoDataset bool
	Tag       domain.Tag
	Callback  common.Address
}

// DefaultTerms returns the balanced-match terms: prices 1000, 1e6, and 1e9
// with the app order limiting volume to 2.
func DefaultTerms() Terms {
	return Terms{
		AppPrice:         1000,
		DatasetPrice:     1_000_000,
		WorkerpoolPrice:  1_000_000_000,
		AppVolume:        2,
		DatasetVolume:    10,
		WorkerpoolVolume: 10,
		RequestVolume:    10,
	}
}

// NewWorld registers fresh participants on a new memory store.
func NewWorld(t testing.TB) *World {
	t.Helper()
	w := &World{
		Hasher:          security.NewHasher(TestDomain),
		Registry:        registry.New(),
		Store:           memstore.New(),
		Policy:          domain.DefaultPolicy(),
		Category:        domain.Category{ID: 0, Name: "XS", WorkClockTimeRef: 300},
		AppOwner:        key(t),
		DatasetOwner:    key(t),
		WorkerpoolOwner: key(t),
		Requester:       key(t),
		Worker:          key(t),
		Enclave:         key(t),
		App:             common.HexToAddress("0xa000000000000000000000000000000000000001"),
		Dataset:         common.HexToAddress("0xd000000000000000000000000000000000000002"),
		Workerpool:      common.HexToAddress("0xb000000000000000000000000000000000000003"),
	}
	w.Auth = security.NewAuthenticator(w.Hasher, w.Registry)
	require.NoError(t, w.Registry.AddCategory(w.Category))
	require.NoError(t, w.Registry.AddApp(domain.Asset{Address: w.App, Owner: w.AppOwner.Address()}))
	require.NoError(t, w.Registry.AddDataset(domain.Asset{Address: w.Dataset, Owner: w.DatasetOwner.Address()}))
	require.NoError(t, w.Registry.AddWorkerpool(domain.Asset{Address: w.Workerpool, Owner: w.WorkerpoolOwner.Address()}))
	return w
}

func key(t testing.TB) *security.Keypair {
	t.Helper()
	kp, err := security.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

// Orders builds and signs four orders under terms. Each call uses fresh
// salts, so the orders are distinct from any earlier call's.
func (w *World) Orders(t testing.TB, terms Terms) *domain.OrderSet {
	t.Helper()
	set := &domain.OrderSet{
		App: domain.AppOrder{
			App:      w.App,
			AppPrice: terms.AppPrice,
			Volume:   terms.AppVolume,
			Tag:      terms.Tag,
			Salt:     w.nextSalt(),
		},
		Workerpool: domain.WorkerpoolOrder{
			Workerpool:      w.Workerpool,
			WorkerpoolPrice: terms.WorkerpoolPrice,
			Volume:          terms.WorkerpoolVolume,
			Tag:             terms.Tag,
			Category:        w.Category.ID,
			Salt:            w.nextSalt(),
		},
		Request: domain.RequestOrder{
			App:                w.App,
			AppMaxPrice:        terms.AppPrice,
			Workerpool:         w.Workerpool,
			WorkerpoolMaxPrice: terms.WorkerpoolPrice,
			Requester:          w.Requester.Address(),
			Volume:             terms.RequestVolume,
			Tag:                terms.Tag,
			Category:           w.Category.ID,
			Beneficiary:        w.Requester.Address(),
			Callback:           terms.Callback,
			Params:             `{"iexec_args":"test"}`,
			Salt:               w.nextSalt(),
		},
	}
	if !terms.NoDataset {
		set.Dataset = domain.DatasetOrder{
			Dataset:      w.Dataset,
			DatasetPrice: terms.DatasetPrice,
			Volume:       terms.DatasetVolume,
			Salt:         w.nextSalt(),
		}
		set.Request.Dataset = w.Dataset
		set.Request.DatasetMaxPrice = terms.DatasetPrice
	}
	w.Sign(t, set)
	return set
}

// Sign (re)signs every order in set with its owner's key.
func (w *World) Sign(t testing.TB, set *domain.OrderSet) {
	t.Helper()
	require.NoError(t, w.AppOwner.SignAppOrder(w.Hasher, &set.App))
	if !set.Dataset.IsNull() {
		require.NoError(t, w.DatasetOwner.SignDatasetOrder(w.Hasher, &set.Dataset))
	}
	require.NoError(t, w.WorkerpoolOwner.SignWorkerpoolOrder(w.Hasher, &set.Workerpool))
	require.NoError(t, w.Requester.SignRequestOrder(w.Hasher, &set.Request))
}

func (w *World) nextSalt() common.Hash {
	w.salt++
	return crypto.Keccak256Hash(binary.BigEndian.AppendUint64(nil, w.salt))
}

// Fund deposits amount into addr.
func (w *World) Fund(t testing.TB, addr common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, w.Store.Update(context.Background(), func(tx domain.Tx) error {
		acct, err := tx.Account(addr)
		if err != nil {
			return err
		}
		acct.Address = addr
		acct.Available += amount
		if err := tx.PutAccount(acct); err != nil {
			return err
		}
		sup, err := tx.Supply()
		if err != nil {
			return err
		}
		sup.Deposited += amount
		return tx.PutSupply(sup)
	}))
}

// Account reads addr's balances.
func (w *World) Account(t testing.TB, addr common.Address) domain.Account {
	t.Helper()
	var a domain.Account
	require.NoError(t, w.Store.View(context.Background(), func(tx domain.Tx) error {
		var err error
		a, err = tx.Account(addr)
		return err
	}))
	return a
}

// Total sums every account's available and frozen balances.
func (w *World) Total(t testing.TB) uint64 {
	t.Helper()
	var total uint64
	require.NoError(t, w.Store.View(context.Background(), func(tx domain.Tx) error {
		accts, err := tx.Accounts()
		if err != nil {
			return err
		}
		for _, a := range accts {
			total += a.Available + a.Frozen
		}
		return nil
	}))
	return total
}

// Contribution returns the workerpool owner's authorization for the world's
// worker to push on task under enclave.
func (w *World) Contribution(t testing.TB, taskID common.Hash, enclave common.Address) []byte {
	t.Helper()
	sig, err := w.WorkerpoolOwner.SignContribution(w.Worker.Address(), taskID, enclave)
	require.NoError(t, err)
	return sig
}

// ResultSign returns the world's worker signature binding the digest of
// payload to task. payload is the callback payload for callback deals and
// the results otherwise.
func (w *World) ResultSign(t testing.TB, taskID common.Hash, payload []byte) []byte {
	t.Helper()
	sig, err := w.Worker.SignResult(taskID, crypto.Keccak256Hash(payload))
	require.NoError(t, err)
	return sig
}
