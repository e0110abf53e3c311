// Package columnvalue implements the Column-Value Store (spec §4, C4): a
// read-only, process-wide index of distinct string dimension values used to
// map free-text filter terms onto concrete column values (spec §6.3).
package columnvalue

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Value is one (entity, column, value) triple (spec §3, §6.3).
type Value struct {
	FQN      string   `json:"FQN"`
	Entity   string   `json:"Entity"`
	Schema   string   `json:"Schema"`
	Database string   `json:"Database"`
	Column   string   `json:"Column"`
	Value    string   `json:"Value"`
	Synonyms []string `json:"Synonyms"`
}

func (v *Value) validate() error {
	if v.FQN == "" || v.Column == "" || v.Value == "" {
		return fmt.Errorf("columnvalue: record missing required field: %+v", v)
	}
	return nil
}

// Store is the in-memory, read-shared Column-Value Store. Records are
// immutable once loaded, matching the Schema Store's offline-build /
// runtime-read-only contract.
type Store struct {
	records []*Value
	byFQN   map[string][]*Value
}

// LoadJSONL reads newline-delimited JSON records (spec §6.3 format) into a
// new Store.
func LoadJSONL(r io.Reader) (*Store, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	store := &Store{byFQN: make(map[string][]*Value)}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v Value
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("columnvalue: invalid JSONL record: %w", err)
		}
		if err := v.validate(); err != nil {
			return nil, err
		}
		store.records = append(store.records, &v)
		store.byFQN[v.FQN] = append(store.byFQN[v.FQN], &v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("columnvalue: failed reading records: %w", err)
	}
	if len(store.records) == 0 {
		return nil, errors.New("columnvalue: no records loaded")
	}
	return store, nil
}

// All returns every record in the store.
func (s *Store) All() []*Value {
	return s.records
}

// ForEntity returns every record for a given entity FQN.
func (s *Store) ForEntity(fqn string) []*Value {
	return s.byFQN[fqn]
}

// Len reports the number of loaded records.
func (s *Store) Len() int {
	return len(s.records)
}
