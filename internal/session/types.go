package session

import "time"

// StartRequest defines the payload for starting an outbound call.
type StartRequest struct {
	To        string `json:"to"`
	Label     string `json:"label,omitempty"`
	Objective string `json:"objective"`
	Vendor    string `json:"vendor,omitempty"`
}

// StartResponse returns created call metadata.
type StartResponse struct {
	CallID    string    `json:"call_id"`
	Vendor    string    `json:"vendor"`
	Target    string    `json:"target"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
