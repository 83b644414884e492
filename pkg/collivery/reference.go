package collivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// lookup describes a cached GET. An empty key is never cached.
type lookup struct {
	key    string
	path   string
	params map[string]any
	ttl    time.Duration
	empty  string // message recorded when the API returns nothing
}

// errRemote is an error reported inside a successful response body.
type errRemote struct {
	code    string
	message string
}

func (e *errRemote) Error() string { return e.code + ": " + e.message }

// fetch serves l from the cache when the mode allows, otherwise calls the
// API, shapes the result and stores it.
func fetch[T any](ctx context.Context, c *Client, o *op, l lookup, shape func(json.RawMessage) (T, error)) (T, bool) {
	var zero T

	if l.key != "" {
		if raw, ok := c.cacheGet(ctx, l.key); ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, true
			}
			c.logger.Ctx(ctx).Warn("Discarding unreadable cache entry", zap.String("key", l.key))
		}
	}

	raw, ok := c.get(ctx, o, l.path, l.params)
	if !ok {
		return zero, false
	}

	empty := l.empty
	if empty == "" {
		empty = "No result returned."
	}
	if isEmpty(raw) {
		o.fail("", CodeResultUnexpected, empty)
		return zero, false
	}

	result, err := shape(raw)
	if err != nil {
		var remote *errRemote
		if errors.As(err, &remote) {
			o.fail("", remote.code, remote.message)
		} else {
			c.logger.Ctx(ctx).Warn("Unexpected Collivery response", zap.String("path", l.path), zap.Error(err))
			o.fail("", CodeResultUnexpected, empty)
		}
		return zero, false
	}

	if l.key != "" {
		c.cachePut(ctx, l.key, result, l.ttl)
	}
	return result, true
}

// ============================================================================
// Towns, suburbs and location types
// ============================================================================

// Towns returns town names keyed by id, optionally limited to a province.
func (c *Client) Towns(ctx context.Context, country, province string) (map[int]string, error) {
	ctx, span := c.startSpan(ctx, "Towns", attribute.String("province", province))
	defer span.End()

	o := c.begin()
	towns, _ := c.towns(ctx, o, country, province)
	return towns, o.err()
}

func (c *Client) towns(ctx context.Context, o *op, country, province string) (map[int]string, bool) {
	if country == "" {
		country = "ZAF"
	}
	key := "collivery.towns." + country
	params := map[string]any{"country": country, "per_page": 0, "page": 1}
	if province != "" {
		key += "." + province
		params["province"] = province
	}
	return fetch(ctx, c, o, lookup{key: key, path: "/v3/towns", params: params, ttl: day}, indexBy("name"))
}

// knownTowns memoises the national town list for the length of an operation.
func (c *Client) knownTowns(ctx context.Context, o *op) map[int]string {
	if o.towns == nil {
		towns, _ := c.towns(ctx, o, "ZAF", "")
		if towns == nil {
			towns = map[int]string{}
		}
		o.towns = towns
	}
	return o.towns
}

// SearchTowns returns towns and suburbs whose names start with name. Names
// shorter than two characters return the full town list.
func (c *Client) SearchTowns(ctx context.Context, name string) (map[int]string, error) {
	ctx, span := c.startSpan(ctx, "SearchTowns", attribute.String("name", name))
	defer span.End()

	o := c.begin()
	if len(strings.TrimSpace(name)) < 2 {
		towns, _ := c.towns(ctx, o, "ZAF", "")
		return towns, o.err()
	}

	towns, _ := fetch(ctx, c, o, lookup{
		key:    "collivery.search_towns." + name,
		path:   "/v3/towns",
		params: map[string]any{"search": name, "per_page": 0, "country": "ZAF"},
		ttl:    day,
	}, indexBy("name"))
	return towns, o.err()
}

// Suburbs returns the suburbs of a town keyed by id.
func (c *Client) Suburbs(ctx context.Context, townID int) (map[int]string, error) {
	ctx, span := c.startSpan(ctx, "Suburbs", attribute.Int("town_id", townID))
	defer span.End()

	o := c.begin()
	suburbs, _ := c.suburbs(ctx, o, townID)
	return suburbs, o.err()
}

func (c *Client) suburbs(ctx context.Context, o *op, townID int) (map[int]string, bool) {
	return fetch(ctx, c, o, lookup{
		key:    fmt.Sprintf("collivery.suburbs.%d", townID),
		path:   "/v3/suburbs",
		params: map[string]any{"town_id": townID, "per_page": 0, "page": 1},
		ttl:    week,
	}, indexBy("name"))
}

// LocationTypes returns address location types keyed by id. Some location
// types carry a delivery surcharge.
func (c *Client) LocationTypes(ctx context.Context) (map[int]string, error) {
	ctx, span := c.startSpan(ctx, "LocationTypes")
	defer span.End()

	o := c.begin()
	types, _ := c.locationTypes(ctx, o)
	return types, o.err()
}

func (c *Client) locationTypes(ctx context.Context, o *op) (map[int]string, bool) {
	return fetch(ctx, c, o, lookup{
		key:   "collivery.location_types",
		path:  "/v3/location_types",
		ttl:   week,
		empty: "No results returned.",
	}, indexBy("name"))
}

// ============================================================================
// Services and parcel types
// ============================================================================

// Services returns the service types keyed by id.
func (c *Client) Services(ctx context.Context) (map[int]string, error) {
	ctx, span := c.startSpan(ctx, "Services")
	defer span.End()

	o := c.begin()
	services, _ := c.services(ctx, o)
	return services, o.err()
}

func (c *Client) services(ctx context.Context, o *op) (map[int]string, bool) {
	return fetch(ctx, c, o, lookup{
		key:   "collivery.services",
		path:  "/v3/service_types",
		ttl:   week,
		empty: "No services returned.",
	}, indexBy("text"))
}

// ParcelTypes returns the parcel types keyed by id.
func (c *Client) ParcelTypes(ctx context.Context) (map[int]ParcelType, error) {
	ctx, span := c.startSpan(ctx, "ParcelTypes")
	defer span.End()

	o := c.begin()
	types, _ := c.parcelTypes(ctx, o)
	return types, o.err()
}

func (c *Client) parcelTypes(ctx context.Context, o *op) (map[int]ParcelType, bool) {
	return fetch(ctx, c, o, lookup{
		key:   "collivery.parcel_types",
		path:  "/v3/parcel_types",
		ttl:   week,
		empty: "No results returned.",
	}, func(raw json.RawMessage) (map[int]ParcelType, error) {
		list, err := decodeAs[[]ParcelType](raw)
		if err != nil {
			return nil, err
		}
		out := make(map[int]ParcelType, len(list))
		for _, pt := range list {
			out[pt.ID] = pt
		}
		return out, nil
	})
}

// ============================================================================
// Addresses and contacts
// ============================================================================

// Address returns one of the account's addresses.
func (c *Client) Address(ctx context.Context, addressID int) (*Address, error) {
	ctx, span := c.startSpan(ctx, "Address", attribute.Int("address_id", addressID))
	defer span.End()

	o := c.begin()
	addr, ok := c.address(ctx, o, addressID)
	if !ok {
		return nil, o.err()
	}
	return &addr, nil
}

func (c *Client) address(ctx context.Context, o *op, addressID int) (Address, bool) {
	if !c.ensureSession(ctx, o) {
		return Address{}, false
	}
	return fetch(ctx, c, o, lookup{
		key:   fmt.Sprintf("collivery.address.%d.%d", c.session.ClientID, addressID),
		path:  fmt.Sprintf("/v3/address/%d", addressID),
		ttl:   day,
		empty: "No address_id returned.",
	}, func(raw json.RawMessage) (Address, error) {
		addr, err := decodeAs[Address](raw)
		if err == nil && addr.ID == 0 {
			err = errors.New("address without id")
		}
		return addr, err
	})
}

// Addresses returns the account's addresses. Only the unfiltered list is
// cached.
func (c *Client) Addresses(ctx context.Context, filter map[string]string) ([]Address, error) {
	ctx, span := c.startSpan(ctx, "Addresses")
	defer span.End()

	o := c.begin()
	if !c.ensureSession(ctx, o) {
		return nil, o.err()
	}

	l := lookup{path: "/v3/address", ttl: day, empty: "No address_id returned."}
	if len(filter) == 0 {
		l.key = addressesKey(c.session.ClientID)
	} else {
		l.params = make(map[string]any, len(filter))
		for k, v := range filter {
			l.params[k] = v
		}
	}

	addresses, _ := fetch(ctx, c, o, l, decodeAs[[]Address])
	return addresses, o.err()
}

func addressesKey(clientID int) string {
	return fmt.Sprintf("collivery.addresses.%d", clientID)
}

func contactsKey(clientID, addressID int) string {
	return fmt.Sprintf("collivery.contacts.%d.%d", clientID, addressID)
}

// Contacts returns the contacts attached to an address.
func (c *Client) Contacts(ctx context.Context, addressID int) ([]Contact, error) {
	ctx, span := c.startSpan(ctx, "Contacts", attribute.Int("address_id", addressID))
	defer span.End()

	o := c.begin()
	contacts, _ := c.contacts(ctx, o, addressID)
	return contacts, o.err()
}

func (c *Client) contacts(ctx context.Context, o *op, addressID int) ([]Contact, bool) {
	if !c.ensureSession(ctx, o) {
		return nil, false
	}
	return fetch(ctx, c, o, lookup{
		key:    contactsKey(c.session.ClientID, addressID),
		path:   "/v3/contacts",
		params: map[string]any{"address_id": addressID},
		ttl:    day,
	}, decodeAs[[]Contact])
}

// ============================================================================
// Waybill documents and tracking
// ============================================================================

// ProofOfDelivery returns the proof of delivery documents of a waybill.
func (c *Client) ProofOfDelivery(ctx context.Context, waybillID int) (json.RawMessage, error) {
	ctx, span := c.startSpan(ctx, "ProofOfDelivery", attribute.Int("waybill_id", waybillID))
	defer span.End()

	o := c.begin()
	if !c.ensureSession(ctx, o) {
		return nil, o.err()
	}
	pod, _ := fetch(ctx, c, o, lookup{
		key:    fmt.Sprintf("collivery.pod.%d.%d", c.session.ClientID, waybillID),
		path:   "/v3/proofs_of_delivery",
		params: map[string]any{"waybill_id": waybillID},
		ttl:    day,
	}, passThrough)
	return pod, o.err()
}

// Waybill returns the waybill document of a collivery. It is never cached.
func (c *Client) Waybill(ctx context.Context, waybillID int) (json.RawMessage, error) {
	ctx, span := c.startSpan(ctx, "Waybill", attribute.Int("waybill_id", waybillID))
	defer span.End()

	o := c.begin()
	doc, _ := fetch(ctx, c, o, lookup{
		path: fmt.Sprintf("/v3/waybill/%d", waybillID),
	}, passThrough)
	return doc, o.err()
}

// ParcelImageList lists the parcel images available for a waybill.
func (c *Client) ParcelImageList(ctx context.Context, waybillID int) (json.RawMessage, error) {
	ctx, span := c.startSpan(ctx, "ParcelImageList", attribute.Int("waybill_id", waybillID))
	defer span.End()

	o := c.begin()
	if !c.ensureSession(ctx, o) {
		return nil, o.err()
	}
	list, _ := fetch(ctx, c, o, lookup{
		key:    fmt.Sprintf("collivery.parcel_image_list.%d.%d", c.session.ClientID, waybillID),
		path:   "/v3/parcel_images",
		params: map[string]any{"waybill_id": waybillID},
		ttl:    12 * time.Hour,
	}, func(raw json.RawMessage) (json.RawMessage, error) {
		var remote remoteError
		if err := json.Unmarshal(raw, &remote); err == nil && remote.ErrorID != nil {
			return nil, &errRemote{code: fmt.Sprint(remote.ErrorID), message: remote.Error}
		}
		return raw, nil
	})
	return list, o.err()
}

// ParcelImage returns one parcel image. Parcels of waybill 54321 are
// numbered 54321-1, 54321-2 and so on.
func (c *Client) ParcelImage(ctx context.Context, parcelID string) (json.RawMessage, error) {
	ctx, span := c.startSpan(ctx, "ParcelImage", attribute.String("parcel_id", parcelID))
	defer span.End()

	o := c.begin()
	if !c.ensureSession(ctx, o) {
		return nil, o.err()
	}
	image, _ := fetch(ctx, c, o, lookup{
		key:  fmt.Sprintf("collivery.parcel_image.%d.%s", c.session.ClientID, parcelID),
		path: "/v3/parcel_images/" + parcelID,
		ttl:  day,
	}, passThrough)
	return image, o.err()
}

// Status returns the tracking status of a waybill. Active colliveries carry
// an estimated delivery time, delivered ones the receiver's name.
func (c *Client) Status(ctx context.Context, waybillID int) (*StatusRecord, error) {
	ctx, span := c.startSpan(ctx, "Status", attribute.Int("waybill_id", waybillID))
	defer span.End()

	o := c.begin()
	if !c.ensureSession(ctx, o) {
		return nil, o.err()
	}
	status, ok := fetch(ctx, c, o, lookup{
		key:  statusKey(c.session.ClientID, waybillID),
		path: fmt.Sprintf("/v3/status_tracking/%d", waybillID),
		ttl:  12 * time.Hour,
	}, decodeAs[StatusRecord])
	if !ok {
		return nil, o.err()
	}
	return &status, nil
}

func statusKey(clientID, waybillID int) string {
	return fmt.Sprintf("collivery.status.%d.%d", clientID, waybillID)
}

// SortedIDs returns the keys of a lookup result in ascending order.
func SortedIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
