// Package webhook decodes feed-provider webhook deliveries into a closed set
// of event kinds.
package webhook

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of webhook events the service reacts to.
type EventKind int

const (
	// KindUnknown covers every code the service ignores.
	KindUnknown EventKind = iota
	// KindDefaultUpdate means new transactions are available.
	KindDefaultUpdate
	// KindError reports a provider-side failure for the item.
	KindError
)

const (
	CodeDefaultUpdate = "DEFAULT_UPDATE"
	CodeError         = "ERROR"
)

func (k EventKind) String() string {
	switch k {
	case KindDefaultUpdate:
		return CodeDefaultUpdate
	case KindError:
		return CodeError
	default:
		return "UNKNOWN"
	}
}

// KindOf maps a webhook_code to its kind.
func KindOf(code string) EventKind {
	switch code {
	case CodeDefaultUpdate:
		return KindDefaultUpdate
	case CodeError:
		return KindError
	default:
		return KindUnknown
	}
}

// ProviderError is the error object attached to ERROR deliveries.
type ProviderError struct {
	Type    string `json:"error_type"`
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// Payload is the subset of the delivery body the service reads.
type Payload struct {
	Type            string         `json:"webhook_type"`
	Code            string         `json:"webhook_code"`
	ItemID          string         `json:"item_id"`
	NewTransactions int            `json:"new_transactions"`
	Error           *ProviderError `json:"error,omitempty"`
}

// Event is a decoded delivery.
type Event struct {
	Kind    EventKind
	Payload Payload
}

// Parse decodes a delivery body.
func Parse(body []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("Parse: decoding webhook body: %w", err)
	}
	return Event{Kind: KindOf(p.Code), Payload: p}, nil
}
