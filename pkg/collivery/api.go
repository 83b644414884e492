package collivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tournevent/collivery/pkg/vat"
)

// APIClient performs a single call to the Collivery API and returns the
// decoded response body. GET parameters travel in the query string, other
// methods send them as a JSON body. HTTP failures are returned as *APIError.
type APIClient interface {
	Request(ctx context.Context, method, path string, params map[string]any) (json.RawMessage, error)
}

// ============================================================================
// Domain types
// ============================================================================

// Parcel is one line of a shipment. A zero Quantity counts as one, so an
// explicit quantity of 0 weighs the same as an omitted one.
type Parcel struct {
	Length   float64 `json:"length,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Weight   float64 `json:"weight"`
	Quantity int     `json:"quantity,omitempty"`
}

// ShipmentRequest is the user supplied description of a collivery. Zero ids
// are treated as not set.
//
// A quote is priced either between two addresses (ColliveryFrom and
// ColliveryTo), between two towns (FromTownID and ToTownID), or from
// pre-resolved fields (CollectionTown, DeliveryLocationType) in which case
// address validation is skipped.
type ShipmentRequest struct {
	ColliveryFrom int `json:"collivery_from,omitempty"`
	ContactFrom   int `json:"contact_from,omitempty"`
	ColliveryTo   int `json:"collivery_to,omitempty"`
	ContactTo     int `json:"contact_to,omitempty"`
	ColliveryType int `json:"collivery_type,omitempty"`
	Service       int `json:"service,omitempty"`

	Parcels        []Parcel  `json:"parcels,omitempty"`
	CollectionTime Timestamp `json:"collection_time,omitzero"`

	FromTownID int `json:"from_town_id,omitempty"`
	ToTownID   int `json:"to_town_id,omitempty"`

	CollectionTown         int `json:"collection_town,omitempty"`
	DeliveryTown           int `json:"delivery_town,omitempty"`
	CollectionLocationType int `json:"collection_location_type,omitempty"`
	DeliveryLocationType   int `json:"delivery_location_type,omitempty"`
	CollectionAddress      int `json:"collection_address,omitempty"`
	DeliveryAddress        int `json:"delivery_address,omitempty"`

	RiskCover         bool   `json:"risk_cover,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	CustomerReference string `json:"customer_reference,omitempty"`
}

// Timestamp is a collection time. It decodes from unix seconds or from a
// string in RFC 3339, "2006-01-02 15:04:05", "2006-01-02 15:04" or
// "2006-01-02" form. Strings without a zone are read as South African time.
type Timestamp struct {
	time.Time
}

var errTimestamp = errors.New("collection_time: unsupported time format")

// ParseTimestamp parses value using the string forms accepted by Timestamp.
func ParseTimestamp(value string) (Timestamp, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Timestamp{}, nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return Timestamp{Time: time.Unix(secs, 0).In(vat.Location)}, nil
	}
	if t, ok := parseTime(value); ok {
		return Timestamp{Time: t}, nil
	}
	return Timestamp{}, errTimestamp
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errTimestamp
	}
	secs, err := n.Int64()
	if err != nil {
		return errTimestamp
	}
	*t = Timestamp{Time: time.Unix(secs, 0).In(vat.Location)}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.In(vat.Location).Format(time.RFC3339))
}

// Price is a quote total with VAT applied for the collection date.
type Price struct {
	ExVat  float64 `json:"ex_vat"`
	IncVat float64 `json:"inc_vat"`
	Vat    float64 `json:"vat"`
	VatPct int     `json:"vat_pct"`
}

// ValidatedQuote is a priced request. CollectionTime and DeliveryTime hold
// the times the service resolved for the towns involved.
type ValidatedQuote struct {
	ShipmentRequest

	DeliveryTime time.Time            `json:"delivery_time,omitzero"`
	Times        map[string]time.Time `json:"times,omitempty"`
	Price        Price                `json:"price"`
	DeliveryType string               `json:"delivery_type"`
	Cover        bool                 `json:"cover"`
	ParcelCount  int                  `json:"parcel_count"`
	Weight       float64              `json:"weight"`
}

// Address is a saved address of the account.
type Address struct {
	ID              int    `json:"id"`
	CustomID        string `json:"custom_id,omitempty"`
	CompanyName     string `json:"company_name,omitempty"`
	BuildingDetails string `json:"building_details,omitempty"`
	StreetNumber    string `json:"street_number,omitempty"`
	Street          string `json:"street,omitempty"`
	TownID          int    `json:"town_id,omitempty"`
	SuburbID        int    `json:"suburb_id,omitempty"`
	ShortText       string `json:"short_text,omitempty"`
}

// NewAddress is the input to AddAddress.
type NewAddress struct {
	LocationType    int    `json:"location_type,omitempty"`
	TownID          int    `json:"town_id,omitempty"`
	SuburbID        int    `json:"suburb_id,omitempty"`
	CompanyName     string `json:"company_name,omitempty"`
	BuildingDetails string `json:"building_details,omitempty"`
	StreetNumber    string `json:"street_number,omitempty"`
	Street          string `json:"street,omitempty"`
	CustomID        string `json:"custom_id,omitempty"`

	FullName  string `json:"full_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Cellphone string `json:"cellphone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Contact is a person attached to an address.
type Contact struct {
	ID        int    `json:"id"`
	AddressID int    `json:"address_id,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Cellphone string `json:"cellphone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// ParcelType is a packaging category.
type ParcelType struct {
	ID              int    `json:"id"`
	TypeText        string `json:"type_text"`
	TypeDescription string `json:"type_description"`
}

// StatusRecord is the tracking state of a waybill.
type StatusRecord struct {
	WaybillID         int    `json:"waybill_id,omitempty"`
	StatusID          int    `json:"status_id"`
	StatusName        string `json:"status_name,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery_time,omitempty"`
	ReceivedBy        string `json:"received_by,omitempty"`
}

// ============================================================================
// Wire types
// ============================================================================

type quoteResponse struct {
	Data []struct {
		Total        any    `json:"total"`
		DeliveryType string `json:"delivery_type"`
	} `json:"data"`
	Meta struct {
		Times      []map[string]string `json:"times"`
		Surcharges json.RawMessage     `json:"surcharges"`
	} `json:"meta"`
}

type createdResponse struct {
	ID   int `json:"id"`
	Data struct {
		ID int `json:"id"`
	} `json:"data"`
}

func (r createdResponse) id() int {
	if r.Data.ID != 0 {
		return r.Data.ID
	}
	return r.ID
}

type remoteError struct {
	ErrorID any    `json:"error_id"`
	Error   string `json:"error"`
}

// ============================================================================
// Decoding helpers
// ============================================================================

// isEmpty reports whether a response carries no data: no body, null, false,
// an empty string, object or array.
func isEmpty(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// unwrap returns the "data" member of an object response, or raw itself.
func unwrap(raw json.RawMessage) json.RawMessage {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if data, ok := wrapped["data"]; ok {
			return data
		}
	}
	return raw
}

func decodeData(raw json.RawMessage, v any) error {
	return json.Unmarshal(unwrap(raw), v)
}

// indexBy turns a list of entities into id -> entity[field].
func indexBy(field string) func(json.RawMessage) (map[int]string, error) {
	return func(raw json.RawMessage) (map[int]string, error) {
		var rows []map[string]any
		if err := decodeData(raw, &rows); err != nil {
			return nil, err
		}
		out := make(map[int]string, len(rows))
		for _, row := range rows {
			id, ok := row["id"].(float64)
			if !ok {
				continue
			}
			value, _ := row[field].(string)
			out[int(id)] = value
		}
		return out, nil
	}
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	err := decodeData(raw, &v)
	return v, err
}

func passThrough(raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}

// toParams converts a request struct into API parameters.
func toParams(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	params := make(map[string]any)
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}
