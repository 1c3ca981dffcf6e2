package store

import (
	"encoding/json"
	"io"

	"github.com/flowctl/policyd/policy"
	"gopkg.in/yaml.v3"
)

// RuleSet is the durable form of a snapshot: one record per rule, exported
// and re-imported verbatim for backup and restore.
type RuleSet struct {
	Version uint64                `yaml:",omitempty" json:"version,omitempty"`
	Rules   []*policy.TrafficRule `yaml:"rules" json:"rules"`
}

// Export writes the snapshot's rule set to w in the given format
// ("json" or "yaml", default yaml).
func (s *Snapshot) Export(w io.Writer, format string) error {
	rs := &RuleSet{
		Version: s.version,
		Rules:   s.rules,
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	case "yaml":
		fallthrough
	default:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		enc.SetIndent(2)

		return enc.Encode(rs)
	}
}

// ReadRuleSet parses an exported rule set document. YAML is a superset of
// the JSON this package emits, so a single decoder covers both formats.
func ReadRuleSet(r io.Reader) (*RuleSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// Import commits the rule set document to the store as a whole, replacing
// the current rules. Validation semantics are those of Commit.
func (s *Store) Import(r io.Reader) (*Snapshot, []*policy.ValidationError, error) {
	rs, err := ReadRuleSet(r)
	if err != nil {
		return nil, nil, err
	}
	snap, errs := s.Commit(rs.Rules)
	return snap, errs, nil
}
