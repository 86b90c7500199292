package types

// Receipt records the outcome of an applied transaction.
type Receipt struct {
	TxHash   [32]byte `json:"txHash"`
	Sender   [20]byte `json:"sender"`
	Type     TxType   `json:"type"`
	Nonce    uint64   `json:"nonce"`
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Code     string   `json:"code,omitempty"`
	Class    string   `json:"class,omitempty"`
	Events   []*Event `json:"events,omitempty"`
	Sequence uint64   `json:"sequence"`
}
