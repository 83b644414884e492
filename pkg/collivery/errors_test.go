package collivery_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/collivery/pkg/collivery"
)

func TestErrorSet_LaterMessageWins(t *testing.T) {
	set := make(collivery.ErrorSet)
	set.Add(collivery.CodeMissingData, "collivery_from/from_town_id not set.")
	set.Add(collivery.CodeMissingData, "service not set.")

	assert.Len(t, set, 1)
	assert.Equal(t, "service not set.", set[collivery.CodeMissingData])

	clone := set.Clone()
	clone.Add(collivery.CodeInvalidData, "Invalid service.")
	assert.False(t, set.Has(collivery.CodeInvalidData))
}

func TestValidationError(t *testing.T) {
	verr := &collivery.ValidationError{
		Errors: collivery.ErrorSet{
			collivery.CodeMissingData: "service not set.",
			collivery.CodeInvalidData: "Invalid Town ID for: from_town_id.",
		},
		Fields: []collivery.FieldError{
			{Field: "from_town_id", Code: collivery.CodeInvalidData, Message: "Invalid Town ID for: from_town_id."},
			{Field: "collivery_to", Code: collivery.CodeMissingData, Message: "collivery_to/to_town_id not set."},
			{Field: "service", Code: collivery.CodeMissingData, Message: "service not set."},
		},
	}

	assert.Equal(t,
		"collivery: invalid_data: Invalid Town ID for: from_town_id.; missing_data: service not set.",
		verr.Error(),
	)
	assert.Equal(t, 2, verr.Count(collivery.CodeMissingData))
	assert.Len(t, verr.For("service"), 1)
	assert.Empty(t, verr.For("contact_to"))

	wrapped := fmt.Errorf("quote: %w", verr)
	got, ok := collivery.AsValidationError(wrapped)
	assert.True(t, ok)
	assert.Same(t, verr, got)

	_, ok = collivery.AsValidationError(errors.New("plain"))
	assert.False(t, ok)
}

func TestAPIError(t *testing.T) {
	cause := errors.New("connection refused")
	transport := &collivery.APIError{Message: cause.Error(), Cause: cause}
	assert.Equal(t, collivery.CodeTransportFailed, transport.Code())
	assert.ErrorIs(t, transport, cause)

	status := &collivery.APIError{StatusCode: 401, Message: "Unauthenticated."}
	assert.Equal(t, "401", status.Code())
	assert.Equal(t, "collivery api (401): Unauthenticated.", status.Error())
}
