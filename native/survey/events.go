package survey

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"surveyledger/core/types"
)

const (
	EventTypeSurveyCreated  = "survey.created"
	EventTypeSurveyFunded   = "survey.funded"
	EventTypeRewardPaid     = "survey.reward_paid"
	EventTypeSurveyFinished = "survey.finished"
	EventTypeSurveyCanceled = "survey.canceled"
	EventTypeBadgeURI       = "survey.badge_uri_updated"
)

type surveyEvent struct {
	evt *types.Event
}

func (e surveyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e surveyEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent describes a newly stored survey.
func NewCreatedEvent(s *Survey) *types.Event {
	evt := newSurveyEvent(EventTypeSurveyCreated, s)
	if s != nil {
		evt.Attributes["limit"] = strconv.FormatUint(s.ParticipantsLimit, 10)
		evt.Attributes["contentHash"] = hex.EncodeToString(s.ContentHash[:])
		if s.Kind == KindBadge {
			evt.Attributes["collection"] = hex.EncodeToString(s.Collection[:])
		} else {
			evt.Attributes["rewardAmount"] = cloneBigInt(s.RewardAmount).String()
		}
	}
	return evt
}

// NewFundedEvent reports the value attached at creation and the routing fee
// forwarded out of it.
func NewFundedEvent(s *Survey, value *big.Int) *types.Event {
	evt := newSurveyEvent(EventTypeSurveyFunded, s)
	evt.Attributes["value"] = cloneBigInt(value).String()
	if s != nil {
		evt.Attributes["routingFee"] = cloneBigInt(s.RoutingFee).String()
	}
	return evt
}

// NewRewardPaidEvent reports a single reward issuance.
func NewRewardPaidEvent(s *Survey, participant [20]byte) *types.Event {
	evt := newSurveyEvent(EventTypeRewardPaid, s)
	evt.Attributes["participant"] = hex.EncodeToString(participant[:])
	if s != nil {
		evt.Attributes["rewarded"] = strconv.FormatUint(s.ParticipantsRewarded, 10)
		if s.Kind == KindFixed {
			evt.Attributes["amount"] = cloneBigInt(s.RewardAmount).String()
		}
	}
	return evt
}

// NewFinishedEvent is emitted once, when the last reward slot is paid.
func NewFinishedEvent(s *Survey) *types.Event {
	return newSurveyEvent(EventTypeSurveyFinished, s)
}

// NewCanceledEvent reports a cancellation and the refunded amount.
func NewCanceledEvent(s *Survey, refund *big.Int) *types.Event {
	evt := newSurveyEvent(EventTypeSurveyCanceled, s)
	evt.Attributes["refund"] = cloneBigInt(refund).String()
	return evt
}

func newSurveyEvent(eventType string, s *Survey) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["surveyId"] = s.ID
	attrs["creator"] = hex.EncodeToString(s.Creator[:])
	attrs["kind"] = s.Kind.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewBadgeURIEvent records a new base URI for the badge collection of s.
func NewBadgeURIEvent(s *Survey, uri string) *types.Event {
	evt := newSurveyEvent(EventTypeBadgeURI, s)
	if s != nil {
		evt.Attributes["collection"] = hex.EncodeToString(s.Collection[:])
	}
	evt.Attributes["baseUri"] = uri
	return evt
}
