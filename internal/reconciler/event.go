package reconciler

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

var ErrBadEvent = errors.New("malformed_provider_event")

// Shipment is one parcel reported by the provider.
type Shipment struct {
	Carrier     string     `json:"carrier"`
	Number      string     `json:"number"`
	URL         string     `json:"url"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// EventLineItem is the slice of a provider order line the reconciler
// cares about: enough to recognize a personalized product.
type EventLineItem struct {
	ProductID string            `json:"product_id"`
	VariantID int64             `json:"variant_id,omitempty"`
	SKU       string            `json:"sku,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is a normalized provider callback. Raw keeps the original
// payload for the audit trail.
type Event struct {
	Raw         json.RawMessage `json:"-"`
	OrderID     string          `json:"id"`
	AltOrderID  string          `json:"order_id"`
	ExternalID  string          `json:"external_id"`
	Status      string          `json:"status"`
	OrderNumber json.Number     `json:"order_number"`
	Shipments   []Shipment      `json:"shipments,omitempty"`
	LineItems   []EventLineItem `json:"line_items,omitempty"`
}

type eventEnvelope struct {
	Type     string          `json:"type"`
	Resource json.RawMessage `json:"resource"`
	Data     json.RawMessage `json:"data"`
}

// ParseEvent unwraps the callback payload. Providers deliver signed
// JSON or form-encoded bodies. JSON arrives as a bare resource or an
// envelope with the resource under `resource` or `data`; forms carry
// either a `data` field holding the JSON resource or the flat
// id/order_id/status/external_id fields. A `type` field overrides the
// topic when present.
func ParseEvent(raw []byte, topic string) (*Event, string, error) {
	if json.Valid(raw) {
		return parseJSONEvent(raw, topic)
	}
	return parseFormEvent(raw, topic)
}

func parseJSONEvent(raw []byte, topic string) (*Event, string, error) {
	var envelope eventEnvelope
	_ = json.Unmarshal(raw, &envelope)
	if envelope.Type != "" {
		topic = envelope.Type
	}

	body := raw
	if len(envelope.Resource) > 0 {
		body = envelope.Resource
	} else if len(envelope.Data) > 0 {
		body = envelope.Data
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, topic, ErrBadEvent
	}
	if event.OrderID == "" {
		event.OrderID = event.AltOrderID
	}
	if event.OrderID == "" && event.ExternalID == "" {
		return nil, topic, ErrBadEvent
	}
	event.Raw = json.RawMessage(raw)
	return &event, topic, nil
}

// parseFormEvent handles form-encoded deliveries. Raw is re-encoded as
// JSON so the audit column always stores a JSON document.
func parseFormEvent(raw []byte, topic string) (*Event, string, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, topic, ErrBadEvent
	}
	if t := values.Get("type"); t != "" {
		topic = t
	}
	if data := values.Get("data"); data != "" {
		return parseJSONEvent([]byte(data), topic)
	}

	event := Event{
		OrderID:    values.Get("id"),
		AltOrderID: values.Get("order_id"),
		ExternalID: values.Get("external_id"),
		Status:     values.Get("status"),
	}
	if n := values.Get("order_number"); n != "" {
		event.OrderNumber = json.Number(n)
	}
	if event.OrderID == "" {
		event.OrderID = event.AltOrderID
	}
	if event.OrderID == "" && event.ExternalID == "" {
		return nil, topic, ErrBadEvent
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, topic, ErrBadEvent
	}
	event.Raw = encoded
	return &event, topic, nil
}

// ParseExternalID splits the `{orderId}-{orderLineId}` marker stamped
// on submission. The line id is the last dash-separated segment so
// order ids containing dashes still parse.
func ParseExternalID(externalID string) (orderID, orderLineID string, ok bool) {
	externalID = strings.TrimSpace(externalID)
	idx := strings.LastIndex(externalID, "-")
	if idx <= 0 || idx == len(externalID)-1 {
		return "", "", false
	}
	return externalID[:idx], externalID[idx+1:], true
}
