package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Omise opens a redirect source charge whose authorize URI acts as the
// hosted checkout page. The charge id doubles as the session id.
type Omise struct {
	client     *omise.Client
	sourceType string
	timeout    time.Duration
}

func NewOmise(pub, sec, sourceType string, timeout time.Duration) (*Omise, error) {
	if pub == "" || sec == "" {
		return &Omise{sourceType: sourceType, timeout: timeout}, nil
	}
	c, err := omise.NewClient(pub, sec)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.SetDebug(false)
	c.Client.Timeout = timeout
	return &Omise{client: c, sourceType: sourceType, timeout: timeout}, nil
}

func (o *Omise) Name() string { return "omise" }

// Omise events are authenticated by fetching them back from the API, so
// there is no signature header to read.
func (o *Omise) SignatureHeader() string { return "" }

// call bounds a blocking SDK call by ctx and the configured timeout. When ctx
// ends first the request is abandoned but may still reach Omise before the
// HTTP client timeout stops it. A charge created that way keeps the purchase
// id in its metadata, so its webhook still finds the pending purchase.
func (o *Omise) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Omise) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if o.client == nil {
		return nil, ErrNotConfigured
	}

	src := &omise.Source{}
	err := o.call(ctx, func() error {
		return o.client.Do(src, &operations.CreateSource{
			Type:     o.sourceType,
			Amount:   req.Amount,
			Currency: req.Currency,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("omise create source: %w", err)
	}

	meta := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	ch := &omise.Charge{}
	err = o.call(ctx, func() error {
		return o.client.Do(ch, &operations.CreateCharge{
			Amount:      req.Amount,
			Currency:    req.Currency,
			Source:      src.ID,
			ReturnURI:   req.SuccessURL,
			Description: req.Description,
			Metadata:    meta,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("omise create charge: %w", err)
	}
	return &Session{ID: ch.ID, URL: ch.AuthorizeURI}, nil
}

func (o *Omise) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	if o.client == nil {
		return false, ErrNotConfigured
	}
	ch := &omise.Charge{}
	err := o.call(ctx, func() error {
		return o.client.Do(ch, &operations.RetrieveCharge{ChargeID: sessionID})
	})
	if err != nil {
		return false, fmt.Errorf("omise retrieve charge: %w", err)
	}
	return string(ch.Status) == "successful", nil
}

type omiseIncoming struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

func (o *Omise) ParseEvent(ctx context.Context, payload []byte, _ string) (*Event, error) {
	if o.client == nil {
		return nil, fmt.Errorf("%w: omise keys not set", ErrInvalidSignature)
	}
	var inc omiseIncoming
	if err := json.Unmarshal(payload, &inc); err != nil || inc.ID == "" {
		return nil, fmt.Errorf("%w: malformed event body", ErrInvalidSignature)
	}

	// Only the event id from the body is trusted; everything else is re-read.
	ev := &omise.Event{}
	err := o.call(ctx, func() error {
		return o.client.Do(ev, &operations.RetrieveEvent{EventID: inc.ID})
	})
	if err != nil {
		return nil, retrieveEventErr(err)
	}

	out := &Event{ID: inc.ID, Type: ev.Key, Kind: EventIgnored}
	if ev.Key != "charge.complete" {
		return out, nil
	}

	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("decode charge: %w", err)
	}

	meta := make(map[string]string, len(ch.Metadata))
	for k, v := range ch.Metadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	kind := EventIgnored
	switch string(ch.Status) {
	case "successful":
		kind = EventPaymentSucceeded
	case "failed", "expired":
		kind = EventPaymentFailed
	}
	*out = metaEvent(meta)
	out.ID = inc.ID
	out.Type = ev.Key
	out.Kind = kind
	out.SessionID = ch.ID
	return out, nil
}

// retrieveEventErr treats an event id Omise does not know as forged. Any
// other failure leaves authenticity undecided.
func retrieveEventErr(err error) error {
	var apiErr *omise.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: unknown event: %v", ErrInvalidSignature, err)
	}
	return fmt.Errorf("%w: retrieve event: %v", ErrProviderUnavailable, err)
}
