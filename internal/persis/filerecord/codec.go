package filerecord

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/skymosaic/skymosaic/internal/core/record"
)

const (
	keyUpdateRate = "update_rate"
	keyCounter    = "counter"
)

// decode reads the flat document {"update_rate": 600, "counter": 2, "0": "...", ...}.
// Keys that are neither known fields nor window indices are kept verbatim.
func decode(data []byte) (*record.Record, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid record document: %w", err)
	}

	rec := &record.Record{Windows: make(map[int]string)}
	for key, raw := range doc {
		switch key {
		case keyUpdateRate:
			if err := json.Unmarshal(raw, &rec.UpdateRate); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", keyUpdateRate, err)
			}
			continue
		case keyCounter:
			if err := json.Unmarshal(raw, &rec.Counter); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", keyCounter, err)
			}
			continue
		}

		if idx, err := strconv.Atoi(key); err == nil && idx >= 0 {
			var label string
			if err := json.Unmarshal(raw, &label); err == nil {
				rec.Windows[idx] = label
				continue
			}
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string][]byte)
		}
		rec.Extra[key] = []byte(raw)
	}

	// Older documents may lag behind their own entries.
	for idx := range rec.Windows {
		if idx >= rec.Counter {
			rec.Counter = idx + 1
		}
	}
	return rec, nil
}

// encode writes the flat document with known fields first, then window
// indices in ascending order, then preserved keys sorted by name.
func encode(rec *record.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")

	first := true
	write := func(key string, value any) error {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		if !first {
			buf.WriteString(",\n")
		}
		first = false
		k, _ := json.Marshal(key)
		buf.WriteString("  ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(b)
		return nil
	}

	if err := write(keyUpdateRate, rec.UpdateRate); err != nil {
		return nil, err
	}
	if err := write(keyCounter, rec.Counter); err != nil {
		return nil, err
	}
	for _, idx := range slices.Sorted(maps.Keys(rec.Windows)) {
		if err := write(strconv.Itoa(idx), rec.Windows[idx]); err != nil {
			return nil, err
		}
	}
	for _, key := range slices.Sorted(maps.Keys(rec.Extra)) {
		if key == keyUpdateRate || key == keyCounter {
			continue
		}
		if idx, err := strconv.Atoi(key); err == nil {
			if _, ok := rec.Windows[idx]; ok {
				continue
			}
		}
		if err := write(key, json.RawMessage(rec.Extra[key])); err != nil {
			return nil, err
		}
	}

	buf.WriteString("\n}\n")
	return buf.Bytes(), nil
}
