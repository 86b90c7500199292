package survey

import (
	"encoding/binary"
	"fmt"

	"surveyledger/core/state"
)

func surveyKey(id string) []byte {
	return append([]byte(state.PrefixSurvey), id...)
}

// rewardedKey length-prefixes the survey id so that no (id, participant)
// pair can alias another.
func rewardedKey(id string, participant [20]byte) []byte {
	key := make([]byte, 0, len(state.PrefixRewarded)+4+len(id)+len(participant))
	key = append(key, state.PrefixRewarded...)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(id)))
	key = append(key, size[:]...)
	key = append(key, id...)
	return append(key, participant[:]...)
}

func loadSurvey(st state.KV, id string) (*Survey, error) {
	if id == "" {
		return nil, nil
	}
	record := new(Survey)
	ok, err := st.KVGet(surveyKey(id), record)
	if err != nil {
		return nil, fmt.Errorf("survey: load %q: %w", id, err)
	}
	if !ok || record.Creator == ([20]byte{}) {
		return nil, nil
	}
	return record, nil
}

func storeSurvey(st state.KV, record *Survey) error {
	if record == nil {
		return fmt.Errorf("survey: nil record")
	}
	if record.ParticipantsRewarded > record.ParticipantsLimit {
		return fmt.Errorf("survey: rewarded %d exceeds limit %d", record.ParticipantsRewarded, record.ParticipantsLimit)
	}
	if err := st.KVPut(surveyKey(record.ID), record.Clone()); err != nil {
		return fmt.Errorf("survey: store %q: %w", record.ID, err)
	}
	return nil
}

func isRewarded(st state.KV, id string, participant [20]byte) (bool, error) {
	var rewarded bool
	ok, err := st.KVGet(rewardedKey(id, participant), &rewarded)
	if err != nil {
		return false, fmt.Errorf("survey: load reward record: %w", err)
	}
	return ok && rewarded, nil
}

func markRewarded(st state.KV, id string, participant [20]byte) error {
	if err := st.KVPut(rewardedKey(id, participant), true); err != nil {
		return fmt.Errorf("survey: store reward record: %w", err)
	}
	return nil
}
