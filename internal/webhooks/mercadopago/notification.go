package mpwebhook

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
)

// ErrUnrecognizedPayload is returned when a notification carries no payment id
// in any of the shapes MercadoPago sends.
var ErrUnrecognizedPayload = pkgerrors.New(pkgerrors.CodeValidation, "unrecognized webhook payload")

// Notification is the normalized form of an incoming MercadoPago event.
type Notification struct {
	PaymentID string
	Topic     string
}

// EventID returns a stable identifier for idempotency tracking.
func (n Notification) EventID() string {
	return n.Topic + ":" + n.PaymentID
}

// Decode normalizes the notification shapes MercadoPago delivers: a JSON body
// with data.id, the legacy IPN query parameters (topic + id), and the
// merchant-order resource form. Non-payment topics decode with their topic set
// so callers can ack and skip them.
func Decode(r *http.Request, body []byte) (*Notification, error) {
	if n := decodeQuery(r.URL.Query()); n != nil {
		return n, nil
	}
	if n := decodeBody(body); n != nil {
		return n, nil
	}
	if n := decodeForm(body); n != nil {
		return n, nil
	}
	return nil, ErrUnrecognizedPayload
}

// decodeForm handles form-encoded IPN bodies carrying the same topic and id
// pair as the query-parameter shape.
func decodeForm(body []byte) *Notification {
	if len(body) == 0 || strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		return nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	return decodeQuery(values)
}

func decodeQuery(query url.Values) *Notification {
	topic := query.Get("topic")
	if topic == "" {
		topic = query.Get("type")
	}
	id := query.Get("id")
	if id == "" {
		id = query.Get("data.id")
	}
	if topic == "" || id == "" {
		return nil
	}
	return &Notification{PaymentID: id, Topic: topic}
}

func decodeBody(body []byte) *Notification {
	if len(body) == 0 {
		return nil
	}

	var payload struct {
		Type   string `json:"type"`
		Topic  string `json:"topic"`
		Action string `json:"action"`
		Data   struct {
			ID json.Number `json:"id"`
		} `json:"data"`
		Resource string `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	topic := payload.Type
	if topic == "" {
		topic = payload.Topic
	}
	if topic == "" && payload.Action != "" {
		topic = strings.SplitN(payload.Action, ".", 2)[0]
	}

	if id := payload.Data.ID.String(); id != "" {
		return &Notification{PaymentID: id, Topic: topic}
	}

	// merchant-order style: resource is a URL whose last segment is the id
	if payload.Resource != "" {
		parts := strings.Split(strings.TrimRight(payload.Resource, "/"), "/")
		id := parts[len(parts)-1]
		if id != "" {
			return &Notification{PaymentID: id, Topic: topic}
		}
	}

	return nil
}

// IsPayment reports whether the notification refers to a payment event.
func (n Notification) IsPayment() bool {
	return n.Topic == "" || n.Topic == "payment"
}
