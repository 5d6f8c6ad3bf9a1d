package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// Define a single validator to do all of the validations for us.
var v = validator.New()

// ValidateBooleanQueryParam extracts a Boolean query parameter and validates it.
func ValidateBooleanQueryParam(ctx echo.Context, name string, defaultValue *bool) (bool, error) {
	errMsg := fmt.Sprintf("invalid query parameter: %s", name)
	value := ctx.QueryParam(name)

	// Assume that the parameter is required if there's no default.
	if defaultValue == nil {
		if err := v.Var(value, "required"); err != nil {
			return false, fmt.Errorf("missing required query parameter: %s", name)
		}
	}

	// If no value was provided at this point then the prameter is optional; return the default value.
	if value == "" {
		return *defaultValue, nil
	}

	// Parse the parameter value and return the result.
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrap(err, errMsg)
	}
	return result, nil
}

// contains returns true if the given slice of strings contains the given string.
func contains(strs []string, str string) bool {
	for _, s := range strs {
		if s == str {
			return true
		}
	}
	return false
}

// ValidateEnumQueryParam extracts the value of an enumeration query parameter. The value will always be converted to
// lower case before validating an returning it.
func ValidateEnumQueryParam(ctx echo.Context, name string, vals []string, defaultValue *string) (string, error) {
	value := strings.ToLower(ctx.QueryParam(name))

	// Assume that the value is required if there's no default.
	if defaultValue == nil && value == "" {
		return "", fmt.Errorf("missing required query parameter: %s", name)
	}

	// If no value was provide at this point then the parameter is optionl; return the default value.
	if value == "" {
		return *defaultValue, nil
	}

	// Validate the value.
	if !contains(vals, value) {
		return "", fmt.Errorf("invalid query parameter: %s; valid values: %s", name, strings.Join(vals, ", "))
	}
	return value, nil
}

// ValidateSortOrder extracts the value of a sort order query parameter and validates it. The value will always be
// converted to lower case before validating and returning it.
func ValidateSortOrder(ctx echo.Context) (string, error) {
	defaultSortOrder := "asc"
	return ValidateEnumQueryParam(ctx, "sort-order", []string{"asc", "desc"}, &defaultSortOrder)
}

// timestampLayouts lists the accepted timestamp layouts, most specific first. Values without a zone are taken as UTC
// because that's how every stored time is recorded.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %s", value)
}

// ValidateTimestampQueryParam extracts an optional timestamp query parameter. A nil value is returned if the
// parameter wasn't provided.
func ValidateTimestampQueryParam(ctx echo.Context, name string) (*time.Time, error) {
	value := ctx.QueryParam(name)
	if value == "" {
		return nil, nil
	}

	t, err := parseTimestamp(value)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid query parameter: %s", name)
	}
	return &t, nil
}
