// Package record defines the feed record and decodes the upstream record list.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotArray is returned when the payload is not a JSON array.
	ErrNotArray = errors.New("payload is not a JSON array")

	// ErrInvalidRecord is returned when an element lacks a required key.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicateID is returned when two records share an ID.
	ErrDuplicateID = errors.New("duplicate record id")
)

var validate = validator.New()

// Record is a single entry of the feed. Records are immutable once decoded.
type Record struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// wireRecord mirrors Record with pointer fields so missing keys can be told
// apart from zero values.
type wireRecord struct {
	ID    *int    `json:"id" validate:"required,gt=0"`
	Title *string `json:"title" validate:"required"`
	Body  *string `json:"body" validate:"required"`
}

// DecodeList decodes a JSON array of records.
// Every element must carry id, title and body; IDs must be positive and unique.
// Unknown keys are ignored.
func DecodeList(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var wire []wireRecord
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	records := make([]Record, 0, len(wire))
	seen := make(map[int]int, len(wire))
	for i, w := range wire {
		if err := validate.Struct(w); err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrInvalidRecord, i, err)
		}
		if prev, ok := seen[*w.ID]; ok {
			return nil, fmt.Errorf("%w %d at index %d (first at %d)", ErrDuplicateID, *w.ID, i, prev)
		}
		seen[*w.ID] = i

		records = append(records, Record{
			ID:    *w.ID,
			Title: *w.Title,
			Body:  *w.Body,
		})
	}

	return records, nil
}
