package collivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tournevent/collivery/pkg/vat"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StatusAccepted is the status a waybill moves to once accepted.
const StatusAccepted = 3

// waybillRequest is the create-waybill wire shape.
type waybillRequest struct {
	CollectionAddress int      `json:"collection_address"`
	CollectionContact int      `json:"collection_contact"`
	DeliveryAddress   int      `json:"delivery_address"`
	DeliveryContact   int      `json:"delivery_contact"`
	ParcelType        int      `json:"parcel_type"`
	Service           int      `json:"service"`
	Parcels           []Parcel `json:"parcels,omitempty"`

	RiskCover         bool   `json:"risk_cover,omitempty"`
	Instructions      string `json:"special_instructions,omitempty"`
	CustomerReference string `json:"customer_reference,omitempty"`
}

func newWaybillRequest(req *ShipmentRequest) waybillRequest {
	return waybillRequest{
		CollectionAddress: req.ColliveryFrom,
		CollectionContact: req.ContactFrom,
		DeliveryAddress:   req.ColliveryTo,
		DeliveryContact:   req.ContactTo,
		ParcelType:        req.ColliveryType,
		Service:           req.Service,
		Parcels:           req.Parcels,
		RiskCover:         req.RiskCover,
		Instructions:      req.Instructions,
		CustomerReference: req.CustomerReference,
	}
}

// CreateShipment validates a shipment request and creates a waybill for it,
// returning the new waybill id. The waybill waits for acceptance.
func (c *Client) CreateShipment(ctx context.Context, req *ShipmentRequest) (int, error) {
	ctx, span := c.startSpan(ctx, "CreateShipment", attribute.Int("service", req.Service))
	defer span.End()

	o := c.begin()
	if !c.validateShipment(ctx, o, req) {
		return 0, o.err()
	}

	wire := newWaybillRequest(req)
	params, err := toParams(&wire)
	if err != nil {
		o.fail("", CodeInvalidData, err.Error())
		return 0, o.err()
	}
	if !req.CollectionTime.IsZero() {
		params["collection_time"] = req.CollectionTime.In(vat.Location).Format(collectionTimeLayout)
	}

	raw, ok := c.post(ctx, o, "/v3/waybill", params)
	if !ok {
		return 0, o.err()
	}

	var created createdResponse
	if isEmpty(raw) || json.Unmarshal(raw, &created) != nil || created.id() == 0 {
		o.fail("", CodeResultUnexpected, "No result returned.")
		return 0, o.err()
	}

	id := created.id()
	c.logger.Ctx(ctx).Info("Collivery created", zap.Int("waybill_id", id))
	return id, nil
}

// AcceptShipment accepts a waybill and returns its new status.
func (c *Client) AcceptShipment(ctx context.Context, waybillID int) (*StatusRecord, error) {
	ctx, span := c.startSpan(ctx, "AcceptShipment", attribute.Int("waybill_id", waybillID))
	defer span.End()

	o := c.begin()
	raw, ok := c.post(ctx, o, fmt.Sprintf("/v3/status_tracking/%d", waybillID), map[string]any{
		"status_id": StatusAccepted,
	})
	if !ok {
		return nil, o.err()
	}
	c.cacheForget(ctx, statusKey(c.session.ClientID, waybillID))

	if isEmpty(raw) {
		o.fail("", CodeResultUnexpected, "No result returned.")
		return nil, o.err()
	}
	status, err := decodeAs[StatusRecord](raw)
	if err != nil {
		o.fail("", CodeResultUnexpected, "No result returned.")
		return nil, o.err()
	}

	c.logger.Ctx(ctx).Info("Collivery accepted", zap.Int("waybill_id", waybillID))
	return &status, nil
}
