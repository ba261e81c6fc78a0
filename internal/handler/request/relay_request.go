package request

import (
	"encoding/json"

	"relay-core/internal/relay"
)

// RelayRequest 中继请求。nonce 可以是 JSON 数字或字符串，由 relay.ParseNonce 解析
type RelayRequest struct {
	From      string          `json:"from" binding:"required,eth_addr"`
	To        string          `json:"to" binding:"required,eth_addr"`
	TxData    string          `json:"txData" binding:"required,hexdata"`
	Nonce     json.RawMessage `json:"nonce" binding:"required" swaggertype:"string"`
	Signature string          `json:"signature" binding:"required,hexdata"`
	Proxy     *string         `json:"proxy" binding:"omitempty,eth_addr"`
	Preflight bool            `json:"preflight"`
}

func (r *RelayRequest) ToBody() relay.Body {
	return relay.Body{
		From:      r.From,
		To:        r.To,
		TxData:    r.TxData,
		Nonce:     r.Nonce,
		Signature: r.Signature,
		Proxy:     r.Proxy,
		Preflight: r.Preflight,
	}
}
