package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// regionCodePattern matches canonical region codes such as "us-east-1".
var regionCodePattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)

// RegionSpec selects the regions a pool spans. It is either a group name
// ("us", "eu", "all", ...) resolved against the provider's region list, or
// an explicit list of region codes.
type RegionSpec struct {
	Group string
	Names []string
}

// RegionGroup returns a spec selecting a named region group.
func RegionGroup(name string) RegionSpec {
	return RegionSpec{Group: name}
}

// RegionList returns a spec selecting an explicit list of regions.
func RegionList(names ...string) RegionSpec {
	return RegionSpec{Names: names}
}

// ParseRegionSpec parses a command-line value. A comma-separated value or a
// single canonical region code yields a list; anything else is a group name.
func ParseRegionSpec(s string) RegionSpec {
	s = strings.TrimSpace(s)
	if s == "" {
		return RegionSpec{}
	}
	if strings.Contains(s, ",") || regionCodePattern.MatchString(s) {
		parts := strings.Split(s, ",")
		names := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				names = append(names, p)
			}
		}
		return RegionSpec{Names: names}
	}
	return RegionSpec{Group: s}
}

// IsZero reports whether no regions were configured.
func (r RegionSpec) IsZero() bool {
	return r.Group == "" && len(r.Names) == 0
}

// IsGroup reports whether r names a region group.
func (r RegionSpec) IsGroup() bool {
	return len(r.Names) == 0 && r.Group != ""
}

// String implements fmt.Stringer.
func (r RegionSpec) String() string {
	if r.IsGroup() {
		return r.Group
	}
	return strings.Join(r.Names, ",")
}

// UnmarshalYAML accepts a scalar group name or a sequence of region codes.
func (r *RegionSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*r = RegionSpec{Group: strings.TrimSpace(value.Value)}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*r = RegionSpec{Names: names}
		return nil
	default:
		return fmt.Errorf("line %d: regions must be a group name or a list", value.Line)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (r RegionSpec) MarshalYAML() (interface{}, error) {
	if r.IsGroup() {
		return r.Group, nil
	}
	return r.Names, nil
}

// UnmarshalJSON accepts a string group name or an array of region codes.
func (r *RegionSpec) UnmarshalJSON(b []byte) error {
	var group string
	if err := json.Unmarshal(b, &group); err == nil {
		*r = RegionSpec{Group: strings.TrimSpace(group)}
		return nil
	}
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return fmt.Errorf("regions must be a group name or a list: %w", err)
	}
	*r = RegionSpec{Names: names}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r RegionSpec) MarshalJSON() ([]byte, error) {
	if r.IsGroup() {
		return json.Marshal(r.Group)
	}
	return json.Marshal(r.Names)
}
