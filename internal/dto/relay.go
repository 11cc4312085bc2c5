package dto

// ==================== Relay DTOs ====================

// RelayRequest gas relay call payload
type RelayRequest struct {
	ContractAddress string   `json:"contractAddress"`
	FunctionName    string   `json:"functionName"`
	Args            []string `json:"args"` // user, amount, bankDetails, deadline, v, r, s
	UserAddress     string   `json:"userAddress"`
	Signature       string   `json:"signature"`
	ChainID         int64    `json:"chainId"`
	Speed           string   `json:"speed,omitempty"`
}

// RelayResponse gas relay reply; exactly one of Hash or Error is expected
type RelayResponse struct {
	Hash  string `json:"hash,omitempty"`
	Error string `json:"error,omitempty"`
}
