package domain

import (
	"encoding/json"
	"errors"
)

// ErrMalformedPayload marks an order payload that can never parse; the
// caller must not ask the platform to retry it.
var ErrMalformedPayload = errors.New("malformed_order_payload")

type orderEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Order json.RawMessage `json:"order"`
}

// NormalizeOrderPayload resolves the known payload nesting shapes
// (`data`, `order`, top-level) into a single Order. Webhook sources wrap
// the order at different levels depending on delivery path.
func NormalizeOrderPayload(raw []byte) (*Order, error) {
	if !json.Valid(raw) {
		return nil, ErrMalformedPayload
	}

	var envelope orderEnvelope
	_ = json.Unmarshal(raw, &envelope)

	candidates := [][]byte{}
	if len(envelope.Data) > 0 {
		candidates = append(candidates, envelope.Data)
	}
	if len(envelope.Order) > 0 {
		candidates = append(candidates, envelope.Order)
	}
	candidates = append(candidates, raw)

	for _, candidate := range candidates {
		var order Order
		if err := json.Unmarshal(candidate, &order); err != nil {
			continue
		}
		if order.ID == 0 {
			continue
		}
		return &order, nil
	}
	return nil, ErrMalformedPayload
}
