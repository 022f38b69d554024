package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single protocol message used for both requests and
// responses. Which fields are used depends on the method and direction.
type Message struct {
	// Method of the request, echoed back in the response
	Method Method `json:"method"`

	// Request fields
	BucketType string `json:"type,omitempty"`  // Used for: Reserve, Wait, Inspect, Replenish, Status
	Key        string `json:"key,omitempty"`   // Bucket instance key (e.g. an IP address)
	Count      uint32 `json:"count,omitempty"` // Number of tokens, used for: Reserve, Wait, Replenish
	All        bool   `json:"all,omitempty"`   // All-or-nothing: grant the full count or nothing

	// Response fields
	Conformant bool   `json:"conformant,omitempty"` // Used for: Reserve, Wait responses
	Delayed    bool   `json:"delayed,omitempty"`    // True when a Wait was queued rather than satisfied immediately
	Remaining  uint32 `json:"remaining,omitempty"`  // Tokens left in the bucket
	ResetAt    uint64 `json:"reset_at,omitempty"`   // Epoch seconds at which the bucket refills
	Limit      uint32 `json:"limit,omitempty"`      // Configured bucket size
	ErrKind    string `json:"error,omitempty"`      // Empty if no error, otherwise the server error kind

	// Status responses list every live instance of the bucket type
	Instances []BucketStatus `json:"instances,omitempty"`
}

// BucketStatus describes one live bucket instance in a Status response.
type BucketStatus struct {
	Key       string `json:"key"`
	Remaining uint32 `json:"remaining"`
	ResetAt   uint64 `json:"reset_at"`
	Limit     uint32 `json:"limit"`
}

// Server error kinds with a dedicated client-side translation.
const (
	ErrKindUnknownBucketType = "UNKNOWN_BUCKET_TYPE"
)

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewReserveRequest creates a new Reserve request
func NewReserveRequest(bucketType, key string, count uint32, all bool) *Message {
	return &Message{
		Method:     MethodReserve,
		BucketType: bucketType,
		Key:        key,
		Count:      count,
		All:        all,
	}
}

// NewWaitRequest creates a new Wait request
func NewWaitRequest(bucketType, key string, count uint32, all bool) *Message {
	return &Message{
		Method:     MethodWait,
		BucketType: bucketType,
		Key:        key,
		Count:      count,
		All:        all,
	}
}

// NewInspectRequest creates a new Inspect request. An empty key is valid and
// addresses the bucket type itself.
func NewInspectRequest(bucketType, key string) *Message {
	return &Message{
		Method:     MethodInspect,
		BucketType: bucketType,
		Key:        key,
	}
}

// NewReplenishRequest creates a new Replenish request
func NewReplenishRequest(bucketType, key string, count uint32) *Message {
	return &Message{
		Method:     MethodReplenish,
		BucketType: bucketType,
		Key:        key,
		Count:      count,
	}
}

// NewPingRequest creates a new Ping request
func NewPingRequest() *Message {
	return &Message{Method: MethodPing}
}

// NewStatusRequest creates a new Status request. The key acts as a prefix
// filter and may be empty.
func NewStatusRequest(bucketType, key string) *Message {
	return &Message{
		Method:     MethodStatus,
		BucketType: bucketType,
		Key:        key,
	}
}

// NewReserveResponse creates a Reserve/Wait response
func NewReserveResponse(method Method, conformant, delayed bool, remaining uint32, resetAt uint64, limit uint32) *Message {
	return &Message{
		Method:     method,
		Conformant: conformant,
		Delayed:    delayed,
		Remaining:  remaining,
		ResetAt:    resetAt,
		Limit:      limit,
	}
}

// NewInspectResponse creates an Inspect response
func NewInspectResponse(remaining uint32, resetAt uint64, limit uint32) *Message {
	return &Message{
		Method:    MethodInspect,
		Remaining: remaining,
		ResetAt:   resetAt,
		Limit:     limit,
	}
}

// NewStatusResponse creates a Status response
func NewStatusResponse(instances []BucketStatus) *Message {
	return &Message{
		Method:    MethodStatus,
		Instances: instances,
	}
}

// NewAckResponse creates an acknowledgement response for Ping and Replenish
func NewAckResponse(method Method) *Message {
	return &Message{Method: method}
}

// NewErrorResponse creates an error response carrying a server error kind
func NewErrorResponse(method Method, kind string) *Message {
	return &Message{
		Method:  method,
		ErrKind: kind,
	}
}

// --------------------------------------------------------------------------
// Method Definition
// --------------------------------------------------------------------------

// Method identifies the operation a Message performs.
type Method uint8

const (
	MethodUnknown Method = iota

	MethodPing      // Liveness check
	MethodReserve   // Take tokens from a bucket, answer immediately
	MethodWait      // Take tokens from a bucket, queue until available
	MethodInspect   // Read a single bucket instance without taking tokens
	MethodReplenish // Put tokens back into a bucket
	MethodStatus    // List live instances of a bucket type
)

// String returns the string representation of a Method.
func (m Method) String() string {
	switch m {
	case MethodPing:
		return "ping"
	case MethodReserve:
		return "reserve"
	case MethodWait:
		return "wait"
	case MethodInspect:
		return "inspect"
	case MethodReplenish:
		return "replenish"
	case MethodStatus:
		return "status"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Method.
// This allows Method to be serialized as a string in JSON.
func (m Method) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Method.
// This allows Method to be deserialized from a string in JSON.
func (m *Method) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "ping":
		*m = MethodPing
	case "reserve":
		*m = MethodReserve
	case "wait":
		*m = MethodWait
	case "inspect":
		*m = MethodInspect
	case "replenish":
		*m = MethodReplenish
	case "status":
		*m = MethodStatus
	default:
		return fmt.Errorf("unknown method: %s", s)
	}

	return nil
}
