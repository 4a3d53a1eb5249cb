// Package reference provides embedded species reference data used to enrich
// classifier verdicts with conservation status, habitat and a fun fact.
package reference

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed species.json
var speciesData []byte

// Entry is one species record from the embedded reference table.
type Entry struct {
	CommonName         string `json:"common_name"`
	ScientificName     string `json:"scientific_name"`
	ConservationStatus string `json:"conservation_status"`
	Habitat            string `json:"habitat"`
	FunFact            string `json:"fun_fact"`
}

// DB is an in-memory index over the embedded species table. Lookups are
// keyed by normalized common and scientific names.
type DB struct {
	byName map[string]*Entry
}

// New parses the embedded table and builds the lookup index.
func New() (*DB, error) {
	var entries []Entry
	if err := json.Unmarshal(speciesData, &entries); err != nil {
		return nil, fmt.Errorf("parse species reference data: %w", err)
	}

	db := &DB{byName: make(map[string]*Entry, 2*len(entries))}
	for i := range entries {
		e := &entries[i]
		db.byName[normalize(e.CommonName)] = e
		db.byName[normalize(e.ScientificName)] = e
	}
	return db, nil
}

// Lookup finds the reference entry for a classifier verdict, trying the
// scientific name first and falling back to the common name. Classifier
// output is free text, so both are normalized before matching.
func (db *DB) Lookup(scientificName, commonName string) (*Entry, bool) {
	if e, ok := db.byName[normalize(scientificName)]; ok {
		return e, true
	}
	if e, ok := db.byName[normalize(commonName)]; ok {
		return e, true
	}
	return nil, false
}

// Len reports the number of indexed name keys.
func (db *DB) Len() int {
	return len(db.byName)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
