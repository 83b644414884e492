package collivery

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ValidateShipment checks a complete shipment request against the
// account's addresses and contacts and the service's parcel types and
// services, then prices it. Times in the result may differ from the request
// where a town is only serviced at certain times.
func (c *Client) ValidateShipment(ctx context.Context, req *ShipmentRequest) (*ValidatedQuote, error) {
	ctx, span := c.startSpan(ctx, "ValidateShipment", attribute.Int("service", req.Service))
	defer span.End()

	o := c.begin()
	if !c.validateShipment(ctx, o, req) {
		return nil, o.err()
	}

	wire := req.mapped()
	params, ok := c.params(o, &wire)
	if !ok {
		return nil, o.err()
	}
	params["services"] = []int{req.Service}
	return c.requestQuote(ctx, o, &wire, params)
}

// validateShipment runs every shipment check and reports whether all passed.
func (c *Client) validateShipment(ctx context.Context, o *op, req *ShipmentRequest) bool {
	c.checkAddress(ctx, o, "collivery_from", req.ColliveryFrom)
	c.checkContact(ctx, o, "contact_from", req.ColliveryFrom, req.ContactFrom)
	c.checkAddress(ctx, o, "collivery_to", req.ColliveryTo)
	c.checkContact(ctx, o, "contact_to", req.ColliveryTo, req.ContactTo)
	c.checkParcelType(ctx, o, req.ColliveryType)
	c.checkService(ctx, o, req.Service)

	if o.failed() {
		c.logger.Ctx(ctx).Info("Shipment request rejected", zap.Int("error_count", len(o.fields)))
		return false
	}
	return true
}

func (c *Client) checkAddress(ctx context.Context, o *op, field string, addressID int) {
	if addressID == 0 {
		o.fail(field, CodeMissingData, field+" not set.")
		return
	}
	if _, ok := c.address(ctx, o, addressID); !ok {
		o.fail(field, CodeInvalidData, "Invalid Address ID for: "+field+".")
	}
}

func (c *Client) checkContact(ctx context.Context, o *op, field string, addressID, contactID int) {
	if contactID == 0 {
		o.fail(field, CodeMissingData, field+" not set.")
		return
	}
	var contacts []Contact
	if addressID != 0 {
		contacts, _ = c.contacts(ctx, o, addressID)
	}
	for _, contact := range contacts {
		if contact.ID == contactID {
			return
		}
	}
	o.fail(field, CodeInvalidData, "Invalid Contact ID for: "+field+".")
}

func (c *Client) checkParcelType(ctx context.Context, o *op, parcelType int) {
	if parcelType == 0 {
		o.fail("collivery_type", CodeMissingData, "collivery_type not set.")
		return
	}
	types, _ := c.parcelTypes(ctx, o)
	if _, ok := types[parcelType]; !ok {
		o.fail("collivery_type", CodeInvalidData, "Invalid collivery_type.")
	}
}
