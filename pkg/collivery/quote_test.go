package collivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/collivery/pkg/collivery"
	"github.com/tournevent/collivery/pkg/vat"
)

func TestClient_Quote_MissingFields(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{})

	assert.Nil(t, quote)
	verr := requireValidationError(t, err)
	assert.Equal(t, 3, verr.Count(collivery.CodeMissingData))
	assert.Len(t, verr.Errors, 1)
	assert.Len(t, verr.For("collivery_from"), 1)
	assert.Len(t, verr.For("collivery_to"), 1)
	assert.Len(t, verr.For("service"), 1)
	assert.Equal(t, "collivery_from/from_town_id not set.", verr.For("collivery_from")[0].Message)
	assert.Empty(t, mockAPI.Calls())
}

func TestClient_Quote_UnknownTownDoesNotShortCircuit(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	_, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID: 999,
		ToTownID:   200,
	})

	verr := requireValidationError(t, err)
	assert.Equal(t, 1, verr.Count(collivery.CodeInvalidData))
	require.Len(t, verr.For("from_town_id"), 1)
	assert.Equal(t, "Invalid Town ID for: from_town_id.", verr.For("from_town_id")[0].Message)
	assert.Empty(t, verr.For("to_town_id"))
	assert.Len(t, verr.For("service"), 1)
	assert.Equal(t, 1, mockAPI.CallCount(http.MethodGet, "/v3/towns"))
	assert.Zero(t, mockAPI.CallCount(http.MethodPost, "/v3/quote"))
}

func TestClient_Quote_InvalidServiceAndAddress(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	_, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		ColliveryFrom: 100,
		ColliveryTo:   999,
		Service:       42,
	})

	verr := requireValidationError(t, err)
	require.Len(t, verr.For("collivery_to"), 1)
	assert.Equal(t, "Invalid Address ID for: collivery_to.", verr.For("collivery_to")[0].Message)
	require.Len(t, verr.For("service"), 1)
	assert.Equal(t, "Invalid service.", verr.For("service")[0].Message)
	assert.Empty(t, verr.For("collivery_from"))
	assert.Zero(t, mockAPI.CallCount(http.MethodPost, "/v3/quote"))
}

func TestClient_Quote_AddressPair(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)
	collection := time.Date(2026, 3, 2, 10, 0, 0, 0, vat.Location)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		ColliveryFrom:  100,
		ColliveryTo:    200,
		Service:        2,
		RiskCover:      true,
		CollectionTime: collivery.Timestamp{Time: collection},
		Parcels: []collivery.Parcel{
			{Weight: 2.5, Quantity: 2},
			{Weight: 1.333},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 100.0, quote.Price.ExVat)
	assert.Equal(t, 15, quote.Price.VatPct)
	assert.Equal(t, 15.0, quote.Price.Vat)
	assert.Equal(t, 187.0, quote.Price.IncVat)
	assert.True(t, quote.Cover)
	assert.Equal(t, "ONX", quote.DeliveryType)
	assert.Equal(t, 6.33, quote.Weight)
	assert.Equal(t, 2, quote.ParcelCount)
	assert.True(t, quote.CollectionTime.Equal(collection))
	assert.True(t, quote.DeliveryTime.Equal(collection.Add(24*time.Hour)))
	assert.Contains(t, quote.Times, "collection_time")

	calls := mockAPI.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "/v3/quote", last.Path)
	assert.Equal(t, "mock-token", last.Params["api_token"])
	assert.EqualValues(t, 100, last.Params["collection_address"])
	assert.EqualValues(t, 200, last.Params["delivery_address"])
	assert.Equal(t, "2026-03-02 10:00", last.Params["collection_time"])
	assert.NotContains(t, last.Params, "services")
}

func TestClient_Quote_TownPair(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID: 147,
		ToTownID:   200,
		Service:    1,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, quote.ParcelCount)
	assert.Zero(t, quote.Weight)
	assert.False(t, quote.Cover)
	assert.Equal(t, 147, quote.CollectionTown)
	assert.Equal(t, 200, quote.DeliveryTown)

	calls := mockAPI.Calls()
	last := calls[len(calls)-1]
	assert.EqualValues(t, 147, last.Params["collection_town"])
	assert.EqualValues(t, 200, last.Params["delivery_town"])
	assert.Zero(t, mockAPI.CallCount(http.MethodGet, "/v3/address/100"))
}

func TestClient_Quote_PreMappedSkipsAddressChecks(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		CollectionTown:       147,
		DeliveryTown:         200,
		DeliveryLocationType: 15,
		Service:              5,
	})

	require.NoError(t, err)
	assert.NotNil(t, quote)
	assert.Zero(t, mockAPI.CallCount(http.MethodGet, "/v3/towns"))
	assert.Equal(t, 1, mockAPI.CallCount(http.MethodPost, "/v3/quote"))
}

func TestClient_Quote_VatBeforeRateChange(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID:     147,
		ToTownID:       200,
		Service:        1,
		CollectionTime: collivery.Timestamp{Time: time.Date(2017, 6, 1, 9, 0, 0, 0, vat.Location)},
	})

	require.NoError(t, err)
	assert.Equal(t, 14, quote.Price.VatPct)
	assert.Equal(t, 14.0, quote.Price.Vat)
}

func TestClient_Quote_VatEarlyMorningOfRateChange(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	mockAPI.Handle(http.MethodPost, "/v3/quote", func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"data":[{"total":100,"delivery_type":"ONX"}],"meta":{"times":[{"collection_time":"2018-04-01 01:00:00"}],"surcharges":[]}}`), nil
	})
	client := newTestClient(t, mockAPI)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID: 147,
		ToTownID:   200,
		Service:    2,
	})

	require.NoError(t, err)
	assert.Equal(t, 15, quote.Price.VatPct)
	assert.Equal(t, 187.0, quote.Price.IncVat)
	assert.Equal(t, 15.0, quote.Price.Vat)
	assert.Equal(t, "2018-03-31T23:00:00Z", quote.CollectionTime.UTC().Format(time.RFC3339))
}

func TestClient_Quote_CollectionTimeSentInSouthAfricanTime(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	_, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID:     147,
		ToTownID:       200,
		Service:        2,
		CollectionTime: collivery.Timestamp{Time: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
	})

	require.NoError(t, err)
	calls := mockAPI.Calls()
	assert.Equal(t, "2024-05-01 10:00", calls[len(calls)-1].Params["collection_time"])
}

func TestClient_Quote_SurchargesAsObject(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	mockAPI.Handle(http.MethodPost, "/v3/quote", func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"data":[{"total":"250.50","delivery_type":"SDX"}],"meta":{"times":[],"surcharges":{"riskCover":12.5}}}`), nil
	})
	client := newTestClient(t, mockAPI)

	quote, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID: 147,
		ToTownID:   200,
		Service:    1,
	})

	require.NoError(t, err)
	assert.True(t, quote.Cover)
	assert.Equal(t, 250.5, quote.Price.ExVat)
	assert.Equal(t, "SDX", quote.DeliveryType)
}

func TestClient_Quote_EmptyResponse(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	mockAPI.Handle(http.MethodPost, "/v3/quote", func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"data":[]}`), nil
	})
	client := newTestClient(t, mockAPI)

	_, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID: 147,
		ToTownID:   200,
		Service:    1,
	})

	verr := requireValidationError(t, err)
	assert.Equal(t, "No result returned.", verr.Errors[collivery.CodeResultUnexpected])
}

func TestClient_Quote_TransportError(t *testing.T) {
	mockAPI := collivery.NewMockAPIClient()
	mockAPI.Handle(http.MethodPost, "/v3/quote", func(context.Context, string, map[string]any) (json.RawMessage, error) {
		return nil, &collivery.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "The given data was invalid."}
	})
	client := newTestClient(t, mockAPI)

	_, err := client.Quote(context.Background(), &collivery.ShipmentRequest{
		FromTownID: 147,
		ToTownID:   200,
		Service:    1,
	})

	verr := requireValidationError(t, err)
	assert.Equal(t, "The given data was invalid.", verr.Errors["422"])
}
