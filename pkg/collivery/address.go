package collivery

import (
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AddAddress saves a new address with its first contact. The location
// type, town and suburb must exist; a street, a contact name and a phone or
// cellphone number are required.
func (c *Client) AddAddress(ctx context.Context, addr NewAddress) (*Address, error) {
	ctx, span := c.startSpan(ctx, "AddAddress", attribute.Int("town_id", addr.TownID))
	defer span.End()

	o := c.begin()

	if addr.LocationType == 0 {
		o.fail("location_type", CodeMissingData, "location_type not set.")
	} else if types, _ := c.locationTypes(ctx, o); !hasKey(types, addr.LocationType) {
		o.fail("location_type", CodeInvalidData, "Invalid location_type.")
	}

	if addr.TownID == 0 {
		o.fail("town_id", CodeMissingData, "town_id not set.")
	} else if !hasKey(c.knownTowns(ctx, o), addr.TownID) {
		o.fail("town_id", CodeInvalidData, "Invalid town_id.")
	}

	if addr.SuburbID == 0 {
		o.fail("suburb_id", CodeMissingData, "suburb_id not set.")
	} else if addr.TownID != 0 {
		if suburbs, _ := c.suburbs(ctx, o, addr.TownID); !hasKey(suburbs, addr.SuburbID) {
			o.fail("suburb_id", CodeInvalidData, "Invalid suburb_id.")
		}
	}

	if addr.Street == "" {
		o.fail("street", CodeMissingData, "street not set.")
	}
	c.checkPerson(o, addr.FullName, &addr.Phone, &addr.Cellphone)

	if o.failed() {
		return nil, o.err()
	}

	params := map[string]any{
		"location_type":    addr.LocationType,
		"town_id":          addr.TownID,
		"suburb_id":        addr.SuburbID,
		"company_name":     addr.CompanyName,
		"building_details": addr.BuildingDetails,
		"street_number":    addr.StreetNumber,
		"street":           addr.Street,
		"custom_id":        addr.CustomID,
		"contact": map[string]any{
			"full_name": addr.FullName,
			"phone":     addr.Phone,
			"cellphone": addr.Cellphone,
			"email":     addr.Email,
		},
	}
	raw, ok := c.post(ctx, o, "/v3/address", params)
	if !ok {
		return nil, o.err()
	}

	var created Address
	if isEmpty(raw) || decodeData(raw, &created) != nil || created.ID == 0 {
		o.fail("", CodeResultUnexpected, "No address_id returned.")
		return nil, o.err()
	}

	c.cacheForget(ctx, addressesKey(c.session.ClientID))
	c.logger.Ctx(ctx).Info("Collivery address added", zap.Int("address_id", created.ID))
	return &created, nil
}

// AddContact attaches a new contact to an existing address and returns its
// id. A name, an email and a phone or cellphone number are required.
func (c *Client) AddContact(ctx context.Context, contact Contact) (int, error) {
	ctx, span := c.startSpan(ctx, "AddContact", attribute.Int("address_id", contact.AddressID))
	defer span.End()

	o := c.begin()

	c.checkAddress(ctx, o, "address_id", contact.AddressID)
	c.checkPerson(o, contact.FullName, &contact.Phone, &contact.Cellphone)
	if contact.Email == "" {
		o.fail("email", CodeMissingData, "email not set.")
	}

	if o.failed() {
		return 0, o.err()
	}

	raw, ok := c.post(ctx, o, "/v3/contacts", map[string]any{
		"address_id": contact.AddressID,
		"full_name":  contact.FullName,
		"phone":      contact.Phone,
		"cellphone":  contact.Cellphone,
		"email":      contact.Email,
	})
	if !ok {
		return 0, o.err()
	}

	var created createdResponse
	if isEmpty(raw) || json.Unmarshal(raw, &created) != nil || created.id() == 0 {
		o.fail("", CodeResultUnexpected, "No contact_id returned.")
		return 0, o.err()
	}

	c.cacheForget(ctx,
		contactsKey(c.session.ClientID, contact.AddressID),
		addressesKey(c.session.ClientID),
	)
	c.logger.Ctx(ctx).Info("Collivery contact added",
		zap.Int("address_id", contact.AddressID),
		zap.Int("contact_id", created.id()),
	)
	return created.id(), nil
}

// checkPerson requires a name and at least one phone number, stripping
// spaces from the numbers.
func (c *Client) checkPerson(o *op, fullName string, phone, cellphone *string) {
	if fullName == "" {
		o.fail("full_name", CodeMissingData, "full_name not set.")
	}
	*phone = strings.ReplaceAll(*phone, " ", "")
	*cellphone = strings.ReplaceAll(*cellphone, " ", "")
	if *phone == "" && *cellphone == "" {
		o.fail("phone", CodeMissingData, "Please supply either a phone or cellphone number.")
	}
}

func hasKey[V any](m map[int]V, key int) bool {
	_, ok := m[key]
	return ok
}
