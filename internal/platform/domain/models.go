package domain

import (
	"encoding/json"
	"strings"
)

// PropertyValue tolerates the platform serializing property values as
// strings, numbers, or booleans.
type PropertyValue string

func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = PropertyValue(s)
		return nil
	}
	*v = PropertyValue(strings.Trim(string(data), `"`))
	return nil
}

func (v PropertyValue) String() string { return string(v) }

// Property is one name/value pair carried on a line item.
type Property struct {
	Name  string        `json:"name"`
	Value PropertyValue `json:"value"`
}

// LineItem is one purchased item within a platform order.
type LineItem struct {
	ID           int64      `json:"id"`
	ProductID    int64      `json:"product_id,omitempty"`
	VariantID    int64      `json:"variant_id,omitempty"`
	Title        string     `json:"title,omitempty"`
	VariantTitle string     `json:"variant_title,omitempty"`
	Quantity     int        `json:"quantity"`
	Price        string     `json:"price"`
	Properties   []Property `json:"properties"`
}

// Property returns the value of the named property, if present.
func (l LineItem) Property(name string) string {
	for _, p := range l.Properties {
		if strings.EqualFold(strings.TrimSpace(p.Name), name) {
			return strings.TrimSpace(p.Value.String())
		}
	}
	return ""
}

// Address is a platform shipping address.
type Address struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2,omitempty"`
	City         string `json:"city"`
	Province     string `json:"province,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	Country      string `json:"country,omitempty"`
	CountryCode  string `json:"country_code"`
	Zip          string `json:"zip"`
}

// Complete reports whether the address carries the fields required to
// submit a physical shipment.
func (a *Address) Complete() bool {
	if a == nil {
		return false
	}
	return strings.TrimSpace(a.Address1) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.CountryCode) != "" &&
		strings.TrimSpace(a.Zip) != ""
}

// ShippingLine is the shipping method the buyer selected at checkout.
type ShippingLine struct {
	Title string `json:"title"`
	Code  string `json:"code,omitempty"`
	Price string `json:"price"`
}

// Order is the normalized "order paid" payload.
type Order struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name,omitempty"`
	Currency        string         `json:"currency"`
	Email           string         `json:"email,omitempty"`
	LineItems       []LineItem     `json:"line_items"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	ShippingLines   []ShippingLine `json:"shipping_lines,omitempty"`
}
