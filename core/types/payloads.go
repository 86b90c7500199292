package types

import "math/big"

// ProofFields accompany every backend-signed operation.
type ProofFields struct {
	Signature []byte   `json:"signature"`
	Token     [32]byte `json:"token"`
	Expiry    uint64   `json:"expiry"`
}

// SetManagerPayload is embedded in set_manager transactions.
type SetManagerPayload struct {
	Manager [20]byte `json:"manager"`
	Enabled bool     `json:"enabled"`
}

// SetRoutingPayload is embedded in set_routing transactions.
type SetRoutingPayload struct {
	Route      [20]byte `json:"route"`
	RouteOwner [20]byte `json:"routeOwner"`
}

// TransferOwnershipPayload nominates the next owner.
type TransferOwnershipPayload struct {
	NewOwner [20]byte `json:"newOwner"`
}

// CreateSurveyPayload is embedded in create_survey transactions. Badge
// surveys set Badge and the three metadata fields; fixed-reward surveys set
// RewardAmount.
type CreateSurveyPayload struct {
	Proof            ProofFields `json:"proof"`
	Owner            [20]byte    `json:"owner"`
	SurveyID         string      `json:"surveyId"`
	ParticipantLimit uint64      `json:"participantLimit"`
	RewardAmount     *big.Int    `json:"rewardAmount"`
	Badge            bool        `json:"badge"`
	BadgeName        string      `json:"badgeName"`
	BadgeSymbol      string      `json:"badgeSymbol"`
	BadgeBaseURI     string      `json:"badgeBaseUri"`
	ContentHash      [32]byte    `json:"contentHash"`
	RoutingFee       *big.Int    `json:"routingFee"`
}

// CancelSurveyPayload is embedded in cancel_survey transactions.
type CancelSurveyPayload struct {
	Proof    ProofFields `json:"proof"`
	SurveyID string      `json:"surveyId"`
}

// PayRewardsPayload is embedded in pay_rewards transactions.
type PayRewardsPayload struct {
	Proof        ProofFields `json:"proof"`
	SurveyIDs    []string    `json:"surveyIds"`
	Participants [][20]byte  `json:"participants"`
}

// SetBadgeURIPayload is embedded in set_badge_uri transactions.
type SetBadgeURIPayload struct {
	SurveyID string `json:"surveyId"`
	BaseURI  string `json:"baseUri"`
}
