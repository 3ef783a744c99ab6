// Package plan defines the tier catalog: the static mapping from plan tiers
// to quota limits, and from Stripe price identifiers to tiers. The catalog is
// read-only after construction; changing limits means a new deploy.
package plan

type Tier string

const (
	TierFree    Tier = "free"
	TierCreator Tier = "creator"
	TierPro     Tier = "pro"
)

// Unlimited is the sentinel limit for tiers with no monthly cap. Counters
// still increment under an unlimited limit so reporting stays accurate.
const Unlimited = -1

// Limits are the quota caps for a tier.
type Limits struct {
	GenerationsPerMonth int
	VideosPerMonth      int
	RewritesPerItem     int
	Priority            bool
}

var tierLimits = map[Tier]Limits{
	TierFree:    {GenerationsPerMonth: 10, VideosPerMonth: 3, RewritesPerItem: 2},
	TierCreator: {GenerationsPerMonth: 60, VideosPerMonth: 15, RewritesPerItem: 5},
	TierPro:     {GenerationsPerMonth: Unlimited, VideosPerMonth: Unlimited, RewritesPerItem: 20, Priority: true},
}

// rank orders tiers for tie-breaking when a customer somehow holds two
// overlapping subscriptions; the higher tier wins.
var rank = map[Tier]int{TierFree: 0, TierCreator: 1, TierPro: 2}

// LimitsFor returns the quota limits for a tier. Unknown tiers get free
// limits, never a paid tier's.
func LimitsFor(t Tier) Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// ParseTier maps a stored plan string to a Tier, defaulting to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierCreator, TierPro:
		return Tier(s)
	default:
		return TierFree
	}
}

// Higher reports whether a outranks b.
func Higher(a, b Tier) bool {
	return rank[a] > rank[b]
}

// PriceConfig carries the Stripe price IDs for the paid tiers, monthly and
// annual. Empty IDs are simply absent from the catalog.
type PriceConfig struct {
	CreatorPriceID       string
	CreatorAnnualPriceID string
	ProPriceID           string
	ProAnnualPriceID     string
}

// Catalog resolves Stripe price identifiers to tiers. Monthly and annual
// prices for the same tier resolve to the same tier.
type Catalog struct {
	prices map[string]Tier
}

func NewCatalog(cfg PriceConfig) *Catalog {
	prices := make(map[string]Tier)
	for id, t := range map[string]Tier{
		cfg.CreatorPriceID:       TierCreator,
		cfg.CreatorAnnualPriceID: TierCreator,
		cfg.ProPriceID:           TierPro,
		cfg.ProAnnualPriceID:     TierPro,
	} {
		if id != "" {
			prices[id] = t
		}
	}
	return &Catalog{prices: prices}
}

// TierForPrice resolves a Stripe price ID to a tier. Unknown IDs resolve to
// free with ok=false so the caller can log the anomaly; an unmapped price is
// never silently treated as a paid tier.
func (c *Catalog) TierForPrice(priceID string) (Tier, bool) {
	if t, ok := c.prices[priceID]; ok {
		return t, true
	}
	return TierFree, false
}

// KnownPrice reports whether the price ID is in the catalog. Checkout only
// forwards known price IDs to Stripe.
func (c *Catalog) KnownPrice(priceID string) bool {
	_, ok := c.prices[priceID]
	return ok
}
