package channel

import "edugate/internal/domain"

// Wire format shared with the platform's push endpoints: the server sends
// event frames, the client sends invoke frames and receives one result frame
// per invoke id.

const ResultCodeUnsupported = "unsupported"

type Frame struct {
	Event  *domain.Event `json:"event,omitempty"`
	Invoke *InvokeFrame  `json:"invoke,omitempty"`
	Result *ResultFrame  `json:"result,omitempty"`
}

type InvokeFrame struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Args   interface{} `json:"args,omitempty"`
}

type ResultFrame struct {
	ID    string `json:"id"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}
