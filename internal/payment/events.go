package payment

import (
	"encoding/json"
	"fmt"
)

// Supported gateways
const (
	GatewayPaystack = "paystack"
	GatewayIvoryPay = "ivorypay"
)

// Signature headers per gateway
const (
	HeaderPaystackSignature = "x-paystack-signature"
	HeaderIvoryPaySignature = "x-ivorypay-signature"
)

type eventKind int

const (
	eventOther eventKind = iota
	eventSuccess
	eventFailed
)

// event is a gateway notification reduced to what settlement needs
type event struct {
	Name      string
	Kind      eventKind
	Reference string
	// AmountKobo is zero when the gateway did not report an amount
	AmountKobo int64
	Reason     string
}

type paystackPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Status          string `json:"status"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

type ivoryPayPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference     string  `json:"reference"`
		Amount        float64 `json:"amount"`
		Status        string  `json:"status"`
		FailureReason string  `json:"failureReason"`
	} `json:"data"`
}

func parseEvent(gateway string, body []byte) (event, error) {
	switch gateway {
	case GatewayPaystack:
		var p paystackPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		ev := event{Name: p.Event, Reference: p.Data.Reference, AmountKobo: p.Data.Amount}
		switch p.Event {
		case "charge.success":
			ev.Kind = eventSuccess
		case "charge.failed":
			ev.Kind = eventFailed
			ev.Reason = p.Data.GatewayResponse
		}
		return ev, nil

	case GatewayIvoryPay:
		var p ivoryPayPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		// IvoryPay reports whole naira
		ev := event{Name: p.Event, Reference: p.Data.Reference, AmountKobo: int64(p.Data.Amount*100 + 0.5)}
		switch p.Event {
		case "collection.success":
			ev.Kind = eventSuccess
		case "collection.failed":
			ev.Kind = eventFailed
			ev.Reason = p.Data.FailureReason
		}
		return ev, nil
	}
	return event{}, fmt.Errorf("%w: %s", ErrUnknownGateway, gateway)
}
