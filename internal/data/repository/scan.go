package repository

import (
	"encoding/json"
	"fmt"

	"expert-booking/internal/calendar"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// uuid[] columns are read and written as text[] so pgx needs no custom codec.

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func decodeRanges(raw []byte) ([]calendar.Range, error) {
	var ranges []calendar.Range
	if len(raw) == 0 {
		return ranges, nil
	}
	if err := json.Unmarshal(raw, &ranges); err != nil {
		return nil, fmt.Errorf("decode ranges: %w", err)
	}
	return ranges, nil
}

func encodeRanges(ranges []calendar.Range) ([]byte, error) {
	if ranges == nil {
		ranges = []calendar.Range{}
	}
	return json.Marshal(ranges)
}

func parseDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", *raw, err)
	}
	return &d, nil
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
