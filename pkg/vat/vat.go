// Package vat computes South African value-added tax for courier prices.
package vat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput indicates a price that is not numeric.
var ErrInvalidInput = errors.New("invalid input")

// Location is South African Standard Time. Collection times and the rate
// change are wall-clock times in this zone.
var Location = loadLocation()

// RateChange is the day the standard rate moved from 14% to 15%.
var RateChange = time.Date(2018, time.April, 1, 0, 0, 0, 0, Location)

func loadLocation() *time.Location {
	if loc, err := time.LoadLocation("Africa/Johannesburg"); err == nil {
		return loc
	}
	// No tzdata on the host. South Africa has no daylight saving.
	return time.FixedZone("SAST", 2*60*60)
}

// Percentage returns the whole-number VAT percentage in force on date.
// A zero date means now.
func Percentage(date time.Time) int {
	if date.IsZero() {
		date = time.Now()
	}
	if date.Before(RateChange) {
		return 14
	}
	return 15
}

// Rate returns Percentage as a fraction.
func Rate(date time.Time) float64 {
	return float64(Percentage(date)) / 100
}

// Amount returns the VAT charged on price, rounded to cents.
func Amount(price float64, date time.Time) float64 {
	return Round(price*Rate(date), 2)
}

// Remove treats price as VAT inclusive and returns the exclusive base.
func Remove(price float64, date time.Time) float64 {
	return price / (1 + Rate(date))
}

// Add returns price plus Remove(price). This matches the upstream service's
// own calculation and is not a plain exclusive-to-inclusive conversion.
func Add(price float64, date time.Time) float64 {
	return price + Remove(price, date)
}

// Round rounds half away from zero to the given number of decimal places.
func Round(value float64, places int32) float64 {
	return decimal.NewFromFloat(value).Round(places).InexactFloat64()
}

// ParsePrice accepts the numeric shapes a price arrives in from JSON or user
// input and returns it as a float.
func ParsePrice(v any) (float64, error) {
	switch p := v.(type) {
	case float64:
		return p, nil
	case float32:
		return float64(p), nil
	case int:
		return float64(p), nil
	case int64:
		return float64(p), nil
	case decimal.Decimal:
		return p.InexactFloat64(), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: price must be numeric, %q given", ErrInvalidInput, p)
		}
		return f, nil
	case interface{ Float64() (float64, error) }:
		f, err := p.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: price must be numeric, %T given", ErrInvalidInput, v)
	}
}
