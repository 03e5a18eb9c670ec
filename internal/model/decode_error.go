package model

// DecodeError records a log that could not be turned into a PoolEvent.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}

func NewDecodeError(rec LogRecord, err error) DecodeError {
	return DecodeError{
		ChainID:     rec.ChainID,
		BlockNumber: rec.BlockNumber,
		TxHash:      rec.TxHash,
		LogIndex:    rec.LogIndex,
		Address:     rec.Address,
		Topic0:      rec.Topic0(),
		Error:       err.Error(),
	}
}
