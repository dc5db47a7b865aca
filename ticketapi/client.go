package ticketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticket-reservation-bot/metrics"

	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://api.kide.app"

const (
	opFetchEvent        = "fetch_event"
	opFetchCart         = "fetch_cart"
	opCreateReservation = "create_reservation"
	opSearchProducts    = "search_products"
)

// Client talks to the ticketing service. It holds no per-call state and is
// safe for concurrent use by any number of workers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signed     bool
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithSignedReservations toggles the SignatureHeader on CreateReservation.
func WithSignedReservations(on bool) Option {
	return func(c *Client) { c.signed = on }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		signed:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchEvent returns the current snapshot of eventID.
func (c *Client) FetchEvent(ctx context.Context, eventID string, timeout time.Duration) (*EventSnapshot, error) {
	var env productEnvelope
	path := "/api/products/" + url.PathEscape(eventID)
	if err := c.do(ctx, opFetchEvent, timeout, http.MethodGet, path, "", nil, &env); err != nil {
		return nil, err
	}
	if env.Model == nil {
		return nil, &Error{Op: opFetchEvent, Kind: KindDecode}
	}
	env.Model.FetchedAt = time.Now()
	return env.Model, nil
}

// FetchCart returns the inventory ids in the caller's cart. A missing or null
// reservation list is an empty cart.
func (c *Client) FetchCart(ctx context.Context, bearerToken string, timeout time.Duration) (Cart, error) {
	var env cartEnvelope
	if err := c.do(ctx, opFetchCart, timeout, http.MethodGet, "/api/reservations", bearerToken, nil, &env); err != nil {
		return nil, err
	}
	cart := make(Cart)
	if env.Model == nil {
		return cart, nil
	}
	for _, r := range env.Model.Reservations {
		cart[r.InventoryID] = struct{}{}
	}
	return cart, nil
}

// CreateReservation asks for quantity units of inventoryID. Only the status
// code decides success. With signing on, an id that cannot be signed fails
// with KindInvalid and nothing is sent.
func (c *Client) CreateReservation(ctx context.Context, bearerToken, inventoryID string, quantity int, timeout time.Duration) error {
	body := reservationRequest{
		ToCancel: []LineItem{},
		ToCreate: []LineItem{{InventoryID: inventoryID, Quantity: quantity}},
	}
	signature := ""
	if c.signed {
		if !CanSign(inventoryID) {
			log.Debug().Str("inventoryId", inventoryID).Msg("ticketapi: refusing to sign malformed inventory id")
			return &Error{Op: opCreateReservation, Kind: KindInvalid, Err: ErrUnsignable}
		}
		signature = SignRequest(inventoryID)
	}
	return c.do(ctx, opCreateReservation, timeout, http.MethodPost, "/api/reservations", bearerToken, &requestBody{payload: body, signature: signature}, nil)
}

// SearchProducts runs a free-text product search.
func (c *Client) SearchProducts(ctx context.Context, text string, timeout time.Duration) ([]ProductSummary, error) {
	var env searchEnvelope
	path := "/api/products?searchText=" + url.QueryEscape(text)
	if err := c.do(ctx, opSearchProducts, timeout, http.MethodGet, path, "", nil, &env); err != nil {
		return nil, err
	}
	if env.Model == nil {
		return []ProductSummary{}, nil
	}
	return env.Model, nil
}

type requestBody struct {
	payload   any
	signature string
}

func (c *Client) do(ctx context.Context, op string, timeout time.Duration, method, path, bearerToken string, body *requestBody, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, op, timeout, method, path, bearerToken, body, out)
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	metrics.RequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	return err
}

func (c *Client) roundTrip(ctx context.Context, op string, timeout time.Duration, method, path, bearerToken string, body *requestBody, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body.payload)
		if err != nil {
			return &Error{Op: op, Kind: KindDecode, Err: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cache-Control", "no-cache")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
		if body.signature != "" {
			req.Header.Set(SignatureHeader, body.signature)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := transportError(ctx, op, err)
		log.Debug().Err(err).Str("op", op).Str("kind", apiErr.Kind.String()).Msg("ticketapi: request failed")
		return apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		log.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("ticketapi: non-success status")
		return &Error{Op: op, Kind: KindHTTP, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(ctx, op, err)
		}
		return &Error{Op: op, Kind: KindDecode, Err: err}
	}
	return nil
}
