package webhook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrMalformed is returned for bodies that are not valid gateway deliveries.
var ErrMalformed = errors.New("malformed event")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://reconciler.local/schemas/gateway-webhook.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("load webhook schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add webhook schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

type wireEnvelope struct {
	ID           string        `json:"id"`
	Event        string        `json:"event"`
	Payment      *Payment      `json:"payment"`
	Subscription *Subscription `json:"subscription"`
}

// Parse validates raw against the delivery schema and decodes it into the
// variant selected by the event tag's prefix.
func Parse(raw []byte) (Event, error) {
	sch, err := compiled()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := Envelope{ID: strings.TrimSpace(w.ID), Event: NormalizeTag(w.Event)}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: empty event tag", ErrMalformed)
	}

	switch {
	case IsPayment(env.Event):
		ev := PaymentEvent{Envelope: env}
		if w.Payment != nil {
			ev.Payment = *w.Payment
			ev.Payment.ID = strings.TrimSpace(ev.Payment.ID)
			ev.Payment.Status = NormalizeTag(ev.Payment.Status)
		}
		return ev, nil
	case IsSubscription(env.Event):
		ev := SubscriptionEvent{Envelope: env}
		if w.Subscription != nil {
			ev.Subscription = *w.Subscription
			ev.Subscription.ID = strings.TrimSpace(ev.Subscription.ID)
			ev.Subscription.Status = NormalizeTag(ev.Subscription.Status)
		}
		return ev, nil
	default:
		ev := UnsupportedEvent{Envelope: env}
		switch {
		case w.Payment != nil && w.Payment.ID != "":
			ev.Target = strings.TrimSpace(w.Payment.ID)
		case w.Subscription != nil && w.Subscription.ID != "":
			ev.Target = strings.TrimSpace(w.Subscription.ID)
		}
		return ev, nil
	}
}

// NormalizeTag trims and upper-cases a gateway vocabulary token. A Caser is
// stateful, so one is built per call.
func NormalizeTag(s string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(s))
}
