package collivery

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/tournevent/collivery/pkg/vat"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// collectionTimeLayout is the wire format of collection_time.
const collectionTimeLayout = "2006-01-02 15:04"

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	collectionTimeLayout,
	"2006-01-02",
}

// endpoint names the request fields describing one end of a shipment.
type endpoint struct {
	addressField string
	townField    string
}

var (
	endpointFrom = endpoint{addressField: "collivery_from", townField: "from_town_id"}
	endpointTo   = endpoint{addressField: "collivery_to", townField: "to_town_id"}
)

// Quote prices a shipment between two addresses, two towns, or from
// pre-resolved collection_town/delivery_location_type fields. All checks run
// before giving up; no quote is requested when any of them fail. Reference
// data is only fetched for fields that are set.
func (c *Client) Quote(ctx context.Context, req *ShipmentRequest) (*ValidatedQuote, error) {
	ctx, span := c.startSpan(ctx, "Quote", attribute.Int("service", req.Service))
	defer span.End()

	o := c.begin()
	premapped := req.CollectionTown != 0 || req.DeliveryLocationType != 0
	if !premapped {
		c.checkEndpoint(ctx, o, endpointFrom, req.ColliveryFrom, req.FromTownID)
		c.checkEndpoint(ctx, o, endpointTo, req.ColliveryTo, req.ToTownID)
	}
	c.checkService(ctx, o, req.Service)

	if o.failed() {
		c.logger.Ctx(ctx).Info("Quote request rejected", zap.Int("error_count", len(o.fields)))
		return nil, o.err()
	}

	wire := *req
	if !premapped {
		wire = req.mapped()
	}
	params, ok := c.params(o, &wire)
	if !ok {
		return nil, o.err()
	}
	return c.requestQuote(ctx, o, &wire, params)
}

func (c *Client) checkEndpoint(ctx context.Context, o *op, e endpoint, addressID, townID int) {
	switch {
	case addressID == 0 && townID == 0:
		o.fail(e.addressField, CodeMissingData, e.addressField+"/"+e.townField+" not set.")
	case addressID != 0:
		if _, ok := c.address(ctx, o, addressID); !ok {
			o.fail(e.addressField, CodeInvalidData, "Invalid Address ID for: "+e.addressField+".")
		}
	default:
		if _, ok := c.knownTowns(ctx, o)[townID]; !ok {
			o.fail(e.townField, CodeInvalidData, "Invalid Town ID for: "+e.townField+".")
		}
	}
}

func (c *Client) checkService(ctx context.Context, o *op, service int) {
	if service == 0 {
		o.fail("service", CodeMissingData, "service not set.")
		return
	}
	services, _ := c.services(ctx, o)
	if _, ok := services[service]; !ok {
		o.fail("service", CodeInvalidData, "Invalid service.")
	}
}

// mapped copies the request and fills the fields the quote and waybill
// endpoints expect from the user facing ones.
func (r *ShipmentRequest) mapped() ShipmentRequest {
	out := *r
	if r.FromTownID != 0 && r.ToTownID != 0 {
		out.CollectionTown = r.FromTownID
		out.DeliveryTown = r.ToTownID
	}
	if r.ColliveryFrom != 0 && r.ColliveryTo != 0 {
		out.CollectionAddress = r.ColliveryFrom
		out.DeliveryAddress = r.ColliveryTo
	}
	return out
}

// params encodes a request for the wire.
func (c *Client) params(o *op, req *ShipmentRequest) (map[string]any, bool) {
	params, err := toParams(req)
	if err != nil {
		o.fail("", CodeInvalidData, err.Error())
		return nil, false
	}
	if !req.CollectionTime.IsZero() {
		params["collection_time"] = req.CollectionTime.In(vat.Location).Format(collectionTimeLayout)
	}
	return params, true
}

// requestQuote calls the quote endpoint and maps the response.
func (c *Client) requestQuote(ctx context.Context, o *op, req *ShipmentRequest, params map[string]any) (*ValidatedQuote, error) {
	raw, ok := c.post(ctx, o, "/v3/quote", params)
	if !ok {
		return nil, o.err()
	}

	var resp quoteResponse
	if isEmpty(raw) || json.Unmarshal(raw, &resp) != nil || len(resp.Data) == 0 {
		o.fail("", CodeResultUnexpected, "No result returned.")
		return nil, o.err()
	}

	quote, err := mapQuote(req, &resp)
	if err != nil {
		o.fail("", CodeResultUnexpected, err.Error())
		return nil, o.err()
	}

	c.logger.Ctx(ctx).Info("Collivery quote",
		zap.Float64("ex_vat", quote.Price.ExVat),
		zap.String("delivery_type", quote.DeliveryType),
	)
	return quote, nil
}

func mapQuote(req *ShipmentRequest, resp *quoteResponse) (*ValidatedQuote, error) {
	q := &ValidatedQuote{ShipmentRequest: *req}
	q.Parcels = slices.Clone(req.Parcels)

	for _, entry := range resp.Meta.Times {
		for key, value := range entry {
			t, ok := parseTime(value)
			if !ok {
				continue
			}
			if q.Times == nil {
				q.Times = make(map[string]time.Time)
			}
			q.Times[key] = t
		}
	}
	if t, ok := q.Times["collection_time"]; ok {
		q.CollectionTime = Timestamp{Time: t}
	}
	if t, ok := q.Times["delivery_time"]; ok {
		q.DeliveryTime = t
	}

	total, err := vat.ParsePrice(resp.Data[0].Total)
	if err != nil {
		return nil, err
	}

	collected := q.CollectionTime.Time
	q.Price = Price{
		ExVat:  vat.Round(total, 2),
		IncVat: vat.Round(vat.Add(total, collected), 0),
		Vat:    vat.Round(vat.Amount(total, collected), 2),
		VatPct: vat.Percentage(collected),
	}
	q.DeliveryType = resp.Data[0].DeliveryType
	q.Cover = hasSurcharge(resp.Meta.Surcharges, "riskCover")

	var weight float64
	for _, p := range req.Parcels {
		quantity := p.Quantity
		if quantity == 0 {
			quantity = 1
		}
		weight += p.Weight * float64(quantity)
	}
	q.Weight = vat.Round(weight, 2)
	q.ParcelCount = len(req.Parcels)
	if q.ParcelCount == 0 {
		q.ParcelCount = 1
	}
	return q, nil
}

func parseTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, vat.Location); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// hasSurcharge accepts surcharges as a list of names or as an object keyed
// by name.
func hasSurcharge(raw json.RawMessage, name string) bool {
	if len(raw) == 0 {
		return false
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return slices.Contains(names, name)
	}
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err == nil {
		_, ok := keyed[name]
		return ok
	}
	return false
}
