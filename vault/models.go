package vault

import (
	"encoding/json"

	"marketflow/order"
)

// Payload is the credential stored for an instant-delivery listing: either
// free text or a structured username/password pair with an optional note.
type Payload struct {
	Content  string `json:"content,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Empty reports whether nothing has been configured.
func (p Payload) Empty() bool {
	return p.Content == "" && p.Username == "" && p.Password == ""
}

// Bytes is the canonical wire form of the payload. Repeat reveals of the same
// order compare equal byte for byte because the struct field order is fixed.
func (p Payload) Bytes() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		// Payload has no unmarshalable fields.
		panic(err)
	}
	return b
}

// RevealOrder is the order snapshot the reveal gate decides on.
type RevealOrder struct {
	BuyerID    string
	ListingID  string
	Status     order.Status
	RevealedAt bool
	Delivery   order.Delivery
}
