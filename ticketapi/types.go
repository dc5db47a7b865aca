package ticketapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventSnapshot is the state of one product at fetch time. A new snapshot
// replaces the previous one on every poll.
type EventSnapshot struct {
	Product   Product   `json:"product"`
	Variants  []Variant `json:"variants"`
	FetchedAt time.Time `json:"-"`
}

type Product struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	SalesOngoing  bool       `json:"salesOngoing"`
	DateSalesFrom *Timestamp `json:"dateSalesFrom,omitempty"`
	Availability  *int       `json:"availability,omitempty"`
}

// Variant is a purchasable configuration of a product (a ticket tier).
type Variant struct {
	InventoryID                             string     `json:"inventoryId"`
	Name                                    string     `json:"name"`
	Availability                            int        `json:"availability"`
	ProductVariantMaximumReservableQuantity int        `json:"productVariantMaximumReservableQuantity"`
	IsProductVariantActive                  bool       `json:"isProductVariantActive"`
	DateSalesFrom                           *Timestamp `json:"dateSalesFrom,omitempty"`
}

// MaxReservable returns min(availability, maximum reservable quantity) with
// availability clamped to [0, maximum] first.
func (v Variant) MaxReservable() int {
	limit := v.ProductVariantMaximumReservableQuantity
	if limit < 0 {
		limit = 0
	}
	avail := v.Availability
	if avail < 0 {
		avail = 0
	}
	if avail > limit {
		avail = limit
	}
	return avail
}

// OnSaleAt reports whether the variant's sale window has opened at now.
// A variant without a sale-start timestamp is always on sale.
func (v Variant) OnSaleAt(now time.Time) bool {
	if v.DateSalesFrom == nil || v.DateSalesFrom.IsZero() {
		return true
	}
	return v.DateSalesFrom.Before(now)
}

// ProductSummary is one hit of a product search.
type ProductSummary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	City          *string `json:"city,omitempty"`
	Place         *string `json:"place,omitempty"`
	Availability  *int    `json:"availability,omitempty"`
	MediaFilename string  `json:"mediaFilename,omitempty"`
}

// Cart is the set of inventory ids currently reserved by the caller.
type Cart map[string]struct{}

func (c Cart) Contains(inventoryID string) bool {
	_, ok := c[inventoryID]
	return ok
}

// LineItem is one entry of a reservation request.
type LineItem struct {
	InventoryID string `json:"inventoryId"`
	Quantity    int    `json:"quantity"`
}

type reservationRequest struct {
	ToCancel []LineItem `json:"toCancel"`
	ToCreate []LineItem `json:"toCreate"`
}

type productEnvelope struct {
	Model *EventSnapshot `json:"model"`
}

type searchEnvelope struct {
	Model []ProductSummary `json:"model"`
}

type cartEnvelope struct {
	Model *struct {
		Reservations []struct {
			InventoryID string `json:"inventoryId"`
		} `json:"reservations"`
	} `json:"model"`
}

// Timestamp accepts the service's date formats, with or without a zone.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
