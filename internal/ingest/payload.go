package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the provider webhook body. Stripe's layout is used by every
// supported provider: the affected resource sits under data.object.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// object holds the data.object fields the handlers read. Amounts are
// pointers because providers omit them on some object types.
type object struct {
	ID               string            `json:"id"`
	AmountTotal      *int64            `json:"amount_total"`
	Amount           *int64            `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	ChargesEnabled   bool              `json:"charges_enabled"`
	PayoutsEnabled   bool              `json:"payouts_enabled"`
	DetailsSubmitted bool              `json:"details_submitted"`
	Capabilities     map[string]string `json:"capabilities"`

	raw json.RawMessage
}

func (o object) meta(key string) string {
	return strings.TrimSpace(o.Metadata[key])
}

func (o object) capabilityActive(name string) bool {
	return o.Capabilities[name] == "active"
}

func parsePayload(payload []byte) (envelope, object, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, object{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(env.Data.Object) == 0 || string(env.Data.Object) == "null" {
		return envelope{}, object{}, fmt.Errorf("%w: missing data.object", ErrInvalidPayload)
	}

	var obj object
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return envelope{}, object{}, fmt.Errorf("%w: data.object: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(obj.ID) == "" {
		return envelope{}, object{}, fmt.Errorf("%w: missing data.object.id", ErrInvalidPayload)
	}
	obj.raw = env.Data.Object
	return env, obj, nil
}
