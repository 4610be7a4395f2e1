// Package domain holds the settlement engine's pure types: orders, deals,
// tasks, accounts, events, and the boundaries the application layer
// depends on.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ─── Tag ────────────────────────────────────────────────────────────────────

// Tag is the 32-byte capability bitmap carried by orders and deals.
type Tag common.Hash

// TagEnclaveBit marks a deal whose tasks must run inside an attested enclave.
const TagEnclaveBit byte = 0x01

// HexToTag parses a hex string into a Tag, left-padding short input.
func HexToTag(s string) Tag { return Tag(common.HexToHash(s)) }

// Or returns the bitwise union of two tags.
func (t Tag) Or(o Tag) Tag {
	var out Tag
	for i := range t {
		out[i] = t[i] | o[i]
	}
	return out
}

// AndNot returns the bits of t that are not set in o.
func (t Tag) AndNot(o Tag) Tag {
	var out Tag
	for i := range t {
		out[i] = t[i] &^ o[i]
	}
	return out
}

// IsZero reports whether no bit is set.
func (t Tag) IsZero() bool { return t == Tag{} }

// RequiresEnclave reports whether the enclave bit is set.
func (t Tag) RequiresEnclave() bool { return t[31]&TagEnclaveBit != 0 }

// Hex returns the 0x-prefixed hex form.
func (t Tag) Hex() string { return common.Hash(t).Hex() }

func (t Tag) MarshalText() ([]byte, error) { return common.Hash(t).MarshalText() }

func (t *Tag) UnmarshalText(input []byte) error {
	return (*common.Hash)(t).UnmarshalText(input)
}

// ─── Orders ─────────────────────────────────────────────────────────────────
// Each order is signed off-system by the owner of its subject (or by the
// requester for request orders). The identity hash covers every field except
// Sign and never changes for the order's lifetime.

// OrderKind names the four order types.
type OrderKind string

const (
	KindApp        OrderKind = "app"
	KindDataset    OrderKind = "dataset"
	KindWorkerpool OrderKind = "workerpool"
	KindRequest    OrderKind = "request"
)

// AppOrder offers a compute program at a price.
type AppOrder struct {
	App                common.Address `json:"app"`
	AppPrice           uint64         `json:"appprice"`
	Volume             uint64         `json:"volume"`
	Tag                Tag            `json:"tag"`
	DatasetRestrict    common.Address `json:"datasetrestrict"`
	WorkerpoolRestrict common.Address `json:"workerpoolrestrict"`
	RequesterRestrict  common.Address `json:"requesterrestrict"`
	Salt               common.Hash    `json:"salt"`
	Sign               hexutil.Bytes  `json:"sign"`
}

// DatasetOrder offers a dataset at a price. The zero value (null Dataset)
// stands for "no dataset".
type DatasetOrder struct {
	Dataset            common.Address `json:"dataset"`
	DatasetPrice       uint64         `json:"datasetprice"`
	Volume             uint64         `json:"volume"`
	Tag                Tag            `json:"tag"`
	AppRestrict        common.Address `json:"apprestrict"`
	WorkerpoolRestrict common.Address `json:"workerpoolrestrict"`
	RequesterRestrict  common.Address `json:"requesterrestrict"`
	Salt               common.Hash    `json:"salt"`
	Sign               hexutil.Bytes  `json:"sign"`
}

// IsNull reports whether the order stands for "no dataset".
func (o *DatasetOrder) IsNull() bool { return o.Dataset == (common.Address{}) }

// WorkerpoolOrder offers compute capacity in a category.
type WorkerpoolOrder struct {
	Workerpool        common.Address `json:"workerpool"`
	WorkerpoolPrice   uint64         `json:"workerpoolprice"`
	Volume            uint64         `json:"volume"`
	Tag               Tag            `json:"tag"`
	Category          uint64         `json:"category"`
	Trust             uint64         `json:"trust"`
	AppRestrict       common.Address `json:"apprestrict"`
	DatasetRestrict   common.Address `json:"datasetrestrict"`
	RequesterRestrict common.Address `json:"requesterrestrict"`
	Salt              common.Hash    `json:"salt"`
	Sign              hexutil.Bytes  `json:"sign"`
}

// RequestOrder is the requester's demand for executions.
type RequestOrder struct {
	App                common.Address `json:"app"`
	AppMaxPrice        uint64         `json:"appmaxprice"`
	Dataset            common.Address `json:"dataset"`
	DatasetMaxPrice    uint64         `json:"datasetmaxprice"`
	Workerpool         common.Address `json:"workerpool"`
	WorkerpoolMaxPrice uint64         `json:"workerpoolmaxprice"`
	Requester          common.Address `json:"requester"`
	Volume             uint64         `json:"volume"`
	Tag                Tag            `json:"tag"`
	Category           uint64         `json:"category"`
	Trust              uint64         `json:"trust"`
	Beneficiary        common.Address `json:"beneficiary"`
	Callback           common.Address `json:"callback"`
	Params             string         `json:"params"`
	Salt               common.Hash    `json:"salt"`
	Sign               hexutil.Bytes  `json:"sign"`
}

// OrderSet bundles the four orders of one match.
type OrderSet struct {
	App        AppOrder        `json:"apporder"`
	Dataset    DatasetOrder    `json:"datasetorder"`
	Workerpool WorkerpoolOrder `json:"workerpoolorder"`
	Request    RequestOrder    `json:"requestorder"`
}

// OrderOperation is the action of ManageOrder.
type OrderOperation string

const (
	// OpSign records a presign for the order so it can be matched without a
	// transportable signature.
	OpSign OrderOperation = "sign"
	// OpClose consumes the order's whole volume.
	OpClose OrderOperation = "close"
)

// OrderOperationArgs carries exactly one order of the given kind.
type OrderOperationArgs struct {
	Operation  OrderOperation   `json:"operation"`
	Kind       OrderKind        `json:"kind"`
	App        *AppOrder        `json:"apporder,omitempty"`
	Dataset    *DatasetOrder    `json:"datasetorder,omitempty"`
	Workerpool *WorkerpoolOrder `json:"workerpoolorder,omitempty"`
	Request    *RequestOrder    `json:"requestorder,omitempty"`
}
