package state

// Key prefixes owned by the native modules. Keeping them together makes
// collisions visible in review.
const (
	PrefixProofToken  = "proofs/used/"
	PrefixAccessOwner = "access/owner"
	PrefixAccessPend  = "access/pending-owner"
	PrefixAccessMgr   = "access/manager/"
	PrefixAccessRoute = "access/routing"
	PrefixSurvey      = "survey/record/"
	PrefixRewarded    = "survey/rewarded/"
	PrefixBadge       = "badge/collection/"
	PrefixBadgeOwner  = "badge/owner/"
	PrefixBadgeCount  = "badge/balance/"
)
