package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency. Every failed
// operation wraps exactly one of these, so callers branch with errors.Is.

var (
	// Authentication errors
	ErrInvalidSignature         = errors.New("invalid order signature")
	ErrInvalidEnclave           = errors.New("invalid enclave attestation")
	ErrUnauthorizedContribution = errors.New("contribution not authorized by workerpool owner or broker")
	ErrNotOrderSigner           = errors.New("caller is not the order's signer")
	ErrInvalidWorkerSignature   = errors.New("result not signed by the worker")

	// Compatibility errors
	ErrCategoryMismatch  = errors.New("workerpool and request categories differ")
	ErrUnknownCategory   = errors.New("category is not registered")
	ErrPriceTooHigh      = errors.New("order price exceeds requester's max price")
	ErrTagMismatch       = errors.New("tag requirements not satisfied")
	ErrAddressMismatch   = errors.New("request order does not reference the supplied order")
	ErrRestricted        = errors.New("order restriction not satisfied")
	ErrUnknownApp        = errors.New("app is not registered")
	ErrUnknownDataset    = errors.New("dataset is not registered")
	ErrUnknownWorkerpool = errors.New("workerpool is not registered")
	ErrTrustTooHigh      = errors.New("trust level requires consensus, not supported by boost")

	// Resource errors
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInsufficientFrozen  = errors.New("insufficient frozen balance")
	ErrOrdersFullyConsumed = errors.New("orders fully consumed")
	ErrOverflow            = errors.New("amount overflow")
	ErrZeroAmount          = errors.New("amount must be positive")

	// State errors
	ErrTaskNotUnset       = errors.New("task is not in unset state")
	ErrDeadlineReached    = errors.New("task deadline reached")
	ErrDeadlineNotReached = errors.New("task deadline not reached")
	ErrEmptyCallback      = errors.New("callback payload required by deal")
	ErrInvariantBroken    = errors.New("ledger invariant broken")

	// Addressing errors
	ErrZeroAddress         = errors.New("null identity")
	ErrDealNotFound        = errors.New("deal not found")
	ErrTaskIndexOutOfRange = errors.New("task index outside deal range")
	ErrTaskNotFound        = errors.New("task not found")
	ErrUnknownOperation    = errors.New("unknown order operation")
)

// ErrorClass names the taxonomy group of err, or "internal" when err wraps
// none of the sentinels above.
type ErrorClass string

const (
	ClassAuthentication ErrorClass = "authentication"
	ClassCompatibility  ErrorClass = "compatibility"
	ClassResource       ErrorClass = "resource"
	ClassState          ErrorClass = "state"
	ClassAddressing     ErrorClass = "addressing"
	ClassInternal       ErrorClass = "internal"
)

var classes = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassAuthentication, []error{ErrInvalidSignature, ErrInvalidEnclave, ErrUnauthorizedContribution, ErrNotOrderSigner,
		ErrInvalidWorkerSignature}},
	{ClassCompatibility, []error{ErrCategoryMismatch, ErrUnknownCategory, ErrPriceTooHigh, ErrTagMismatch,
		ErrAddressMismatch, ErrRestricted, ErrUnknownApp, ErrUnknownDataset, ErrUnknownWorkerpool, ErrTrustTooHigh}},
	{ClassResource, []error{ErrInsufficientBalance, ErrInsufficientFrozen, ErrOrdersFullyConsumed, ErrOverflow, ErrZeroAmount}},
	{ClassState, []error{ErrTaskNotUnset, ErrDeadlineReached, ErrDeadlineNotReached, ErrEmptyCallback, ErrInvariantBroken}},
	{ClassAddressing, []error{ErrZeroAddress, ErrDealNotFound, ErrTaskIndexOutOfRange, ErrTaskNotFound, ErrUnknownOperation}},
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassInternal
}
