package request

// ReplenishRequest 手动补充签名钱包余额
type ReplenishRequest struct {
	TimeoutSeconds int `json:"timeout_seconds" binding:"omitempty,min=1,max=600"`
}
