package survey

import "surveyledger/native/common"

const moduleName = "survey"

var (
	ErrNotCreator          = common.NewError(common.ClassAuthorization, moduleName, "NOT_CREATOR", "caller is not the survey owner")
	ErrNotAuthorized       = common.NewError(common.ClassAuthorization, moduleName, "NOT_AUTHORIZED", "caller is neither creator nor manager")
	ErrInvalidSigner       = common.NewError(common.ClassAuthorization, moduleName, "INVALID_SIGNER", "signer is not a manager")
	ErrSurveyExists        = common.NewError(common.ClassState, moduleName, "ALREADY_EXISTS", "survey already exists")
	ErrSurveyNotFound      = common.NewError(common.ClassState, moduleName, "NOT_FOUND", "survey not found")
	ErrAlreadyCanceled     = common.NewError(common.ClassState, moduleName, "ALREADY_CANCELED", "survey already canceled")
	ErrAlreadyExhausted    = common.NewError(common.ClassState, moduleName, "ALREADY_EXHAUSTED", "all participants already rewarded")
	ErrSurveyCanceled      = common.NewError(common.ClassState, moduleName, "SURVEY_CANCELED", "survey canceled")
	ErrSurveyExhausted     = common.NewError(common.ClassState, moduleName, "SURVEY_EXHAUSTED", "survey exhausted")
	ErrAlreadyRewarded     = common.NewError(common.ClassState, moduleName, "ALREADY_REWARDED", "participant already rewarded")
	ErrInvalidValue        = common.NewError(common.ClassValue, moduleName, "INVALID_VALUE", "attached value does not match required funding")
	ErrInvalidRewardAmount = common.NewError(common.ClassValue, moduleName, "INVALID_REWARD_AMOUNT", "reward amount inconsistent with funding")
	ErrTransferFailed      = common.NewError(common.ClassTransfer, moduleName, "TRANSFER_FAILED", "transfer failed")
	ErrLengthMismatch      = common.NewError(common.ClassInvalid, moduleName, "LENGTH_MISMATCH", "survey and participant lists differ in length")
	ErrInvalidSurveyID     = common.NewError(common.ClassInvalid, moduleName, "INVALID_SURVEY_ID", "survey id must not be empty")
	ErrInvalidParticipant  = common.NewError(common.ClassInvalid, moduleName, "INVALID_PARTICIPANT", "participant must not be the zero address")
	ErrUnsupportedModel    = common.NewError(common.ClassInvalid, moduleName, "UNSUPPORTED_MODEL", "reward model not enabled")
	ErrNotOwner            = common.NewError(common.ClassAuthorization, moduleName, "NOT_OWNER", "caller is not the ledger owner")
	ErrNotBadgeSurvey      = common.NewError(common.ClassInvalid, moduleName, "NOT_BADGE_SURVEY", "survey does not issue badges")
)
