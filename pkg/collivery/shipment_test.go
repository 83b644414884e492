package collivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/collivery/pkg/collivery"
)

func validShipment() *collivery.ShipmentRequest {
	return &collivery.ShipmentRequest{
		ColliveryFrom: 100,
		ContactFrom:   1000,
		ColliveryTo:   200,
		ContactTo:     2000,
		ColliveryType: 2,
		Service:       2,
		Parcels:       []collivery.Parcel{{Length: 20, Width: 20, Height: 20, Weight: 4}},
		Instructions:  "Ring the bell",
	}
}

func TestClient_ValidateShipment_Success(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	quote, err := client.ValidateShipment(context.Background(), validShipment())

	require.NoError(t, err)
	assert.Equal(t, 100.0, quote.Price.ExVat)
	assert.Equal(t, 4.0, quote.Weight)
	assert.Equal(t, 1, quote.ParcelCount)

	calls := mockAPI.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "/v3/quote", last.Path)
	assert.Equal(t, []int{2}, last.Params["services"])
	assert.False(t, client.HasErrors())
}

func TestClient_ValidateShipment_ContactNotOnAddress(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	req := validShipment()
	req.ContactFrom = 2000

	_, err := client.ValidateShipment(context.Background(), req)

	verr := requireValidationError(t, err)
	require.Len(t, verr.For("contact_from"), 1)
	assert.Equal(t, collivery.CodeInvalidData, verr.For("contact_from")[0].Code)
	assert.Equal(t, "Invalid Contact ID for: contact_from.", verr.For("contact_from")[0].Message)
	assert.Empty(t, verr.For("collivery_from"))
	assert.Empty(t, verr.For("contact_to"))
	assert.Zero(t, mockAPI.CallCount(http.MethodPost, "/v3/quote"))
}

func TestClient_ValidateShipment_AllMissing(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	_, err := client.ValidateShipment(context.Background(), &collivery.ShipmentRequest{})

	verr := requireValidationError(t, err)
	assert.Equal(t, 6, verr.Count(collivery.CodeMissingData))
	assert.Empty(t, mockAPI.Calls())
}

func TestClient_ValidateShipment_UnknownParcelTypeAndAddress(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	req := validShipment()
	req.ColliveryTo = 999
	req.ColliveryType = 7

	_, err := client.ValidateShipment(context.Background(), req)

	verr := requireValidationError(t, err)
	require.Len(t, verr.For("collivery_to"), 1)
	assert.Equal(t, collivery.CodeInvalidData, verr.For("collivery_to")[0].Code)
	require.Len(t, verr.For("collivery_type"), 1)
	assert.Equal(t, "Invalid collivery_type.", verr.For("collivery_type")[0].Message)
	assert.Len(t, verr.For("contact_to"), 1)
}

func TestClient_CreateShipment_Success(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	id, err := client.CreateShipment(context.Background(), validShipment())

	require.NoError(t, err)
	assert.Equal(t, 5001, id)
	require.Equal(t, 1, mockAPI.CallCount(http.MethodPost, "/v3/waybill"))

	calls := mockAPI.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "/v3/waybill", last.Path)
	assert.EqualValues(t, 100, last.Params["collection_address"])
	assert.EqualValues(t, 1000, last.Params["collection_contact"])
	assert.EqualValues(t, 200, last.Params["delivery_address"])
	assert.EqualValues(t, 2000, last.Params["delivery_contact"])
	assert.EqualValues(t, 2, last.Params["parcel_type"])
	assert.EqualValues(t, 2, last.Params["service"])
	assert.Equal(t, "Ring the bell", last.Params["special_instructions"])
}

func TestClient_CreateShipment_ValidationBlocksCreate(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	req := validShipment()
	req.ContactTo = 1000

	id, err := client.CreateShipment(context.Background(), req)

	assert.Zero(t, id)
	verr := requireValidationError(t, err)
	assert.Len(t, verr.For("contact_to"), 1)
	assert.Zero(t, mockAPI.CallCount(http.MethodPost, "/v3/waybill"))
}

func TestClient_CreateShipment_NoID(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	mockAPI.Handle(http.MethodPost, "/v3/waybill", func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"data":{}}`), nil
	})
	client := newTestClient(t, mockAPI)

	_, err := client.CreateShipment(context.Background(), validShipment())

	verr := requireValidationError(t, err)
	assert.True(t, verr.Has(collivery.CodeResultUnexpected))
}

func TestClient_AcceptShipment(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)
	ctx := context.Background()

	before, err := client.Status(ctx, 5001)
	require.NoError(t, err)
	assert.Equal(t, 1, before.StatusID)

	status, err := client.AcceptShipment(ctx, 5001)
	require.NoError(t, err)
	assert.Equal(t, collivery.StatusAccepted, status.StatusID)
	assert.Equal(t, 5001, status.WaybillID)

	posts := 0
	for _, call := range mockAPI.Calls() {
		if call.Method == http.MethodPost && call.Path == "/v3/status_tracking/5001" {
			posts++
			assert.Equal(t, collivery.StatusAccepted, call.Params["status_id"])
		}
	}
	assert.Equal(t, 1, posts)

	_, err = client.Status(ctx, 5001)
	require.NoError(t, err)
	assert.Equal(t, 2, mockAPI.CallCount(http.MethodGet, "/v3/status_tracking/5001"))
}

func TestClient_AcceptShipment_Error(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	mockAPI.Handle(http.MethodPost, "/v3/status_tracking/{id}", func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return nil, &collivery.APIError{StatusCode: http.StatusNotFound, Message: "Waybill not found."}
	})
	client := newTestClient(t, mockAPI)

	status, err := client.AcceptShipment(context.Background(), 1)

	assert.Nil(t, status)
	verr := requireValidationError(t, err)
	assert.Equal(t, "Waybill not found.", verr.Errors["404"])
}

func TestClient_AddAddress_Success(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)
	ctx := context.Background()

	_, err := client.Addresses(ctx, nil)
	require.NoError(t, err)

	addr, err := client.AddAddress(ctx, collivery.NewAddress{
		LocationType: 15,
		TownID:       147,
		SuburbID:     1936,
		Street:       "New Street",
		FullName:     "Jo Soap",
		Phone:        "011 555 1234",
	})
	require.NoError(t, err)
	assert.Equal(t, 300, addr.ID)

	calls := mockAPI.Calls()
	last := calls[len(calls)-1]
	contact, ok := last.Params["contact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0115551234", contact["phone"])

	_, err = client.Addresses(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, mockAPI.CallCount(http.MethodGet, "/v3/address"))
}

func TestClient_AddAddress_Invalid(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	_, err := client.AddAddress(context.Background(), collivery.NewAddress{
		LocationType: 99,
		TownID:       147,
		SuburbID:     2001,
		Phone:        "   ",
	})

	verr := requireValidationError(t, err)
	assert.Len(t, verr.For("location_type"), 1)
	assert.Len(t, verr.For("suburb_id"), 1)
	assert.Empty(t, verr.For("town_id"))
	assert.Len(t, verr.For("street"), 1)
	assert.Len(t, verr.For("full_name"), 1)
	assert.Len(t, verr.For("phone"), 1)
	assert.Zero(t, mockAPI.CallCount(http.MethodPost, "/v3/address"))
}

func TestClient_AddContact(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)
	ctx := context.Background()

	_, err := client.Contacts(ctx, 100)
	require.NoError(t, err)

	id, err := client.AddContact(ctx, collivery.Contact{
		AddressID: 100,
		FullName:  "Sam Second",
		Cellphone: "082 000 0000",
		Email:     "sam@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 3000, id)

	_, err = client.Contacts(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, mockAPI.CallCount(http.MethodGet, "/v3/contacts"))
}

func TestClient_AddContact_Invalid(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	_, err := client.AddContact(context.Background(), collivery.Contact{AddressID: 999, FullName: "No Email", Phone: "011"})

	verr := requireValidationError(t, err)
	assert.Len(t, verr.For("address_id"), 1)
	assert.Len(t, verr.For("email"), 1)
	assert.Zero(t, mockAPI.CallCount(http.MethodPost, "/v3/contacts"))
}
