package model

// APIResponse is the success envelope. Count is only set on list endpoints.
type APIResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Count   *int `json:"count,omitempty"`
}

// APIError is the failure envelope.
type APIError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
