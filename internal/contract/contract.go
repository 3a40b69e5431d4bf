// Package contract loads per-agency SLA contracts into an immutable
// rule repository.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/dcawatch/internal/model"
)

// ErrUnknownAgency is returned by Lookup when the agency has no contract.
var ErrUnknownAgency = errors.New("unknown agency")

// ParseError reports a contract configuration that could not be loaded.
// It is fatal at startup: no partial or default contract is substituted.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("contract: parse: %v", e.Err)
	}
	return fmt.Sprintf("contract: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Repository holds parsed agency contracts. It is never mutated after
// construction; a reload produces a new Repository.
type Repository struct {
	contracts map[string][]model.SLARule
	hash      string
}

// Load reads and validates a YAML or JSON contract file.
func Load(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return parse(path, data)
}

// Parse validates and parses contract configuration from raw bytes.
func Parse(data []byte) (*Repository, error) {
	return parse("", data)
}

func parse(path string, data []byte) (*Repository, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if err := validateDocument(doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var cfg model.ContractConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	h := sha256.Sum256(data)
	return New(cfg, hex.EncodeToString(h[:])), nil
}

// New builds a Repository from an already parsed configuration.
// The configuration is copied; later changes to cfg are not observed.
func New(cfg model.ContractConfig, hash string) *Repository {
	contracts := make(map[string][]model.SLARule, len(cfg.DCAConfigs))
	for id, c := range cfg.DCAConfigs {
		contracts[id] = slices.Clone(c.SLARules)
	}
	return &Repository{contracts: contracts, hash: hash}
}

// Lookup returns the agency's rules in authored order.
func (r *Repository) Lookup(dcaID string) ([]model.SLARule, error) {
	rules, ok := r.contracts[dcaID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgency, dcaID)
	}
	return slices.Clone(rules), nil
}

// Agencies returns the configured agency identifiers, sorted.
func (r *Repository) Agencies() []string {
	return slices.Sorted(maps.Keys(r.contracts))
}

// Len returns the number of configured agencies.
func (r *Repository) Len() int {
	return len(r.contracts)
}

// Hash returns the SHA-256 hex digest of the raw contract bytes.
func (r *Repository) Hash() string {
	return r.hash
}
