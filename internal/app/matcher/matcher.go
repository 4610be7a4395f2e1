// Package matcher turns four compatible, authenticated orders into a deal.
//
// A single match consumes the smallest remaining volume among the orders.
// Matching the same orders again (volume permitting) produces another deal
// whose task range starts where the previous one ended, which is how one
// request order is filled in several batches.
package matcher

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/app/escrow"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/security"
)

// Matcher validates order compatibility and escrows the deal price.
type Matcher struct {
	auth       *security.Authenticator
	assets     domain.AssetRegistry
	categories domain.CategoryRegistry
	groups     domain.GroupOracle
	policy     domain.Policy
}

// New creates a matcher. groups may be nil, in which case restrictions
// only accept exact identities.
func New(auth *security.Authenticator, assets domain.AssetRegistry, categories domain.CategoryRegistry, groups domain.GroupOracle, policy domain.Policy) *Matcher {
	return &Matcher{
		auth:       auth,
		assets:     assets,
		categories: categories,
		groups:     groups,
		policy:     policy,
	}
}

// resolved holds what the checks learn about the orders.
type resolved struct {
	app, dataset, workerpool domain.Asset
	category                 domain.Category
	tag                      domain.Tag
}

// Match validates orders, escrows the deal price from payer (the requester
// when payer is the null identity), and stores the deal. Any error leaves
// tx unusable for commit; the caller must roll back.
func (m *Matcher) Match(tx domain.Tx, rec domain.Recorder, now uint64, orders *domain.OrderSet, payer common.Address) (domain.Deal, error) {
	r, err := m.check(orders)
	if err != nil {
		return domain.Deal{}, err
	}

	app, dataset, wp, req := &orders.App, &orders.Dataset, &orders.Workerpool, &orders.Request

	// ─── Authentication ─────────────────────────────────────────────
	appHash, err := m.auth.AppOrder(tx, app, r.app.Owner)
	if err != nil {
		return domain.Deal{}, err
	}
	var datasetHash common.Hash
	if !dataset.IsNull() {
		if datasetHash, err = m.auth.DatasetOrder(tx, dataset, r.dataset.Owner); err != nil {
			return domain.Deal{}, err
		}
	}
	wpHash, err := m.auth.WorkerpoolOrder(tx, wp, r.workerpool.Owner)
	if err != nil {
		return domain.Deal{}, err
	}
	reqHash, err := m.auth.RequestOrder(tx, req)
	if err != nil {
		return domain.Deal{}, err
	}

	// ─── Volume ─────────────────────────────────────────────────────
	botFirst, err := tx.Consumed(reqHash)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("read request consumption: %w", err)
	}
	volume := remaining(req.Volume, botFirst)
	for _, o := range []struct {
		hash   common.Hash
		volume uint64
		skip   bool
	}{
		{appHash, app.Volume, false},
		{datasetHash, dataset.Volume, dataset.IsNull()},
		{wpHash, wp.Volume, false},
	} {
		if o.skip {
			continue
		}
		consumed, err := tx.Consumed(o.hash)
		if err != nil {
			return domain.Deal{}, fmt.Errorf("read consumption: %w", err)
		}
		volume = min(volume, remaining(o.volume, consumed))
	}
	if volume == 0 {
		return domain.Deal{}, domain.ErrOrdersFullyConsumed
	}

	// ─── Deal ───────────────────────────────────────────────────────
	deal := domain.Deal{
		ID:          domain.DealID(reqHash, botFirst),
		App:         domain.Resource{Pointer: app.App, Owner: r.app.Owner, Price: app.AppPrice},
		Workerpool:  domain.Resource{Pointer: wp.Workerpool, Owner: r.workerpool.Owner, Price: wp.WorkerpoolPrice},
		Trust:       req.Trust,
		Category:    req.Category,
		Tag:         r.tag,
		Requester:   req.Requester,
		Beneficiary: req.Beneficiary,
		Callback:    req.Callback,
		Params:      req.Params,
		StartTime:   now,
		BotFirst:    botFirst,
		BotSize:     volume,
		Sponsor:     req.Requester,

		AppOrderHash:        appHash,
		DatasetOrderHash:    datasetHash,
		WorkerpoolOrderHash: wpHash,
		RequestOrderHash:    reqHash,
	}
	if !dataset.IsNull() {
		deal.Dataset = domain.Resource{Pointer: dataset.Dataset, Owner: r.dataset.Owner, Price: dataset.DatasetPrice}
	}
	if payer != (common.Address{}) {
		deal.Sponsor = payer
	}

	window, err := domain.Mul(r.category.WorkClockTimeRef, m.policy.ContributionDeadlineRatio)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("deadline: %w", err)
	}
	if deal.Deadline, err = domain.Add(now, window); err != nil {
		return domain.Deal{}, fmt.Errorf("deadline: %w", err)
	}
	if deal.WorkerReward, err = domain.Percent(wp.WorkerpoolPrice, m.policy.WorkerRewardRatio); err != nil {
		return domain.Deal{}, fmt.Errorf("worker reward: %w", err)
	}
	if deal.SchedulerStake, err = domain.Percent(wp.WorkerpoolPrice, m.policy.WorkerpoolStakeRatio); err != nil {
		return domain.Deal{}, fmt.Errorf("scheduler stake: %w", err)
	}

	// ─── Escrow ─────────────────────────────────────────────────────
	taskPrice, err := sum(app.AppPrice, deal.Dataset.Price, wp.WorkerpoolPrice)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("task price: %w", err)
	}
	dealPrice, err := domain.Mul(taskPrice, volume)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("deal price: %w", err)
	}
	stake, err := domain.Mul(deal.SchedulerStake, volume)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("scheduler stake: %w", err)
	}

	ledger := escrow.New(tx, rec, now)
	if err := ledger.Lock(deal.Sponsor, dealPrice, deal.ID); err != nil {
		return domain.Deal{}, fmt.Errorf("escrow deal price: %w", err)
	}
	if err := ledger.Lock(deal.Workerpool.Owner, stake, deal.ID); err != nil {
		return domain.Deal{}, fmt.Errorf("escrow scheduler stake: %w", err)
	}

	// ─── Consumption ────────────────────────────────────────────────
	for _, h := range []common.Hash{appHash, datasetHash, wpHash, reqHash} {
		if h == (common.Hash{}) {
			continue
		}
		consumed, err := tx.Consumed(h)
		if err != nil {
			return domain.Deal{}, fmt.Errorf("read consumption: %w", err)
		}
		if err := tx.SetConsumed(h, consumed+volume); err != nil {
			return domain.Deal{}, fmt.Errorf("store consumption: %w", err)
		}
	}

	if err := tx.PutDeal(deal); err != nil {
		return domain.Deal{}, fmt.Errorf("store deal: %w", err)
	}

	rec.Record(domain.Event{
		Kind:        domain.EventOrdersMatched,
		Time:        now,
		Ref:         deal.ID,
		DealID:      deal.ID,
		OrderHashes: []common.Hash{appHash, datasetHash, wpHash, reqHash},
		Volume:      volume,
	})
	if deal.Sponsor != deal.Requester {
		rec.Record(domain.Event{
			Kind:    domain.EventDealSponsored,
			Time:    now,
			Ref:     deal.ID,
			DealID:  deal.ID,
			Account: deal.Sponsor,
		})
	}
	return deal, nil
}

// check runs every compatibility rule that needs no ledger state.
func (m *Matcher) check(o *domain.OrderSet) (resolved, error) {
	var r resolved
	app, dataset, wp, req := &o.App, &o.Dataset, &o.Workerpool, &o.Request

	if req.Category != wp.Category {
		return r, fmt.Errorf("request %d, workerpool %d: %w", req.Category, wp.Category, domain.ErrCategoryMismatch)
	}
	cat, ok := m.categories.Category(req.Category)
	if !ok {
		return r, fmt.Errorf("category %d: %w", req.Category, domain.ErrUnknownCategory)
	}
	r.category = cat

	if req.Trust > 1 || wp.Trust > 1 {
		return r, fmt.Errorf("request trust %d, workerpool trust %d: %w", req.Trust, wp.Trust, domain.ErrTrustTooHigh)
	}

	if req.AppMaxPrice < app.AppPrice {
		return r, fmt.Errorf("app price %d > max %d: %w", app.AppPrice, req.AppMaxPrice, domain.ErrPriceTooHigh)
	}
	if req.DatasetMaxPrice < dataset.DatasetPrice {
		return r, fmt.Errorf("dataset price %d > max %d: %w", dataset.DatasetPrice, req.DatasetMaxPrice, domain.ErrPriceTooHigh)
	}
	if req.WorkerpoolMaxPrice < wp.WorkerpoolPrice {
		return r, fmt.Errorf("workerpool price %d > max %d: %w", wp.WorkerpoolPrice, req.WorkerpoolMaxPrice, domain.ErrPriceTooHigh)
	}

	r.tag = app.Tag.Or(dataset.Tag).Or(req.Tag)
	if !r.tag.AndNot(wp.Tag).IsZero() {
		return r, fmt.Errorf("workerpool tag %s lacks bits of %s: %w", wp.Tag.Hex(), r.tag.Hex(), domain.ErrTagMismatch)
	}
	if (dataset.Tag.RequiresEnclave() || req.Tag.RequiresEnclave()) && !app.Tag.RequiresEnclave() {
		return r, fmt.Errorf("enclave required but app is not enclave-ready: %w", domain.ErrTagMismatch)
	}

	if req.App != app.App {
		return r, fmt.Errorf("app %s != %s: %w", app.App.Hex(), req.App.Hex(), domain.ErrAddressMismatch)
	}
	if req.Dataset != dataset.Dataset {
		return r, fmt.Errorf("dataset %s != %s: %w", dataset.Dataset.Hex(), req.Dataset.Hex(), domain.ErrAddressMismatch)
	}
	if dataset.IsNull() && (dataset.DatasetPrice != 0 || !dataset.Tag.IsZero()) {
		return r, fmt.Errorf("null dataset order carries terms: %w", domain.ErrAddressMismatch)
	}

	if r.app, ok = m.assets.App(app.App); !ok {
		return r, fmt.Errorf("app %s: %w", app.App.Hex(), domain.ErrUnknownApp)
	}
	if !dataset.IsNull() {
		if r.dataset, ok = m.assets.Dataset(dataset.Dataset); !ok {
			return r, fmt.Errorf("dataset %s: %w", dataset.Dataset.Hex(), domain.ErrUnknownDataset)
		}
	}
	if r.workerpool, ok = m.assets.Workerpool(wp.Workerpool); !ok {
		return r, fmt.Errorf("workerpool %s: %w", wp.Workerpool.Hex(), domain.ErrUnknownWorkerpool)
	}

	restrictions := []struct {
		what        string
		restriction common.Address
		account     common.Address
	}{
		{"request.workerpool", req.Workerpool, wp.Workerpool},
		{"app.datasetrestrict", app.DatasetRestrict, dataset.Dataset},
		{"app.workerpoolrestrict", app.WorkerpoolRestrict, wp.Workerpool},
		{"app.requesterrestrict", app.RequesterRestrict, req.Requester},
		{"dataset.workerpoolrestrict", dataset.WorkerpoolRestrict, wp.Workerpool},
		{"dataset.requesterrestrict", dataset.RequesterRestrict, req.Requester},
		{"workerpool.apprestrict", wp.AppRestrict, app.App},
		{"workerpool.datasetrestrict", wp.DatasetRestrict, dataset.Dataset},
		{"workerpool.requesterrestrict", wp.RequesterRestrict, req.Requester},
	}
	if !dataset.IsNull() {
		restrictions = append(restrictions, struct {
			what        string
			restriction common.Address
			account     common.Address
		}{"dataset.apprestrict", dataset.AppRestrict, app.App})
	}
	for _, c := range restrictions {
		if !m.authorizedBy(c.restriction, c.account) {
			return r, fmt.Errorf("%s %s excludes %s: %w", c.what, c.restriction.Hex(), c.account.Hex(), domain.ErrRestricted)
		}
	}
	return r, nil
}

// authorizedBy reports whether account satisfies restriction: the null
// identity is unrestricted, otherwise the account must be the restriction
// itself or a member of its group.
func (m *Matcher) authorizedBy(restriction, account common.Address) bool {
	if restriction == (common.Address{}) || restriction == account {
		return true
	}
	return m.groups != nil && m.groups.IsMember(restriction, account)
}

func remaining(volume, consumed uint64) uint64 {
	if consumed >= volume {
		return 0
	}
	return volume - consumed
}

func sum(vs ...uint64) (uint64, error) {
	var total uint64
	for _, v := range vs {
		var err error
		if total, err = domain.Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
