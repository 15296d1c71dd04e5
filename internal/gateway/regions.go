package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/avaproxy/internal/config"
)

// Region groups. Any other group name is matched as a region code prefix.
const (
	GroupDefault = "default"
	GroupUS      = "us"
	GroupEU      = "eu"
	GroupAsia    = "asia"
	GroupAll     = "all"
)

// DefaultRegion is the region of the default group.
const DefaultRegion Region = "us-east-1"

// groupPrefixes maps named groups to the region code prefixes they cover.
var groupPrefixes = map[string][]string{
	GroupUS:   {"us-"},
	GroupEU:   {"eu-"},
	GroupAsia: {"ap-", "sa-"},
	GroupAll:  {""},
}

// RegionLister lists the regions a provider offers.
type RegionLister interface {
	ListRegions(ctx context.Context) ([]Region, error)
}

// ResolveRegions turns a region spec into the ordered list of regions to
// provision. Explicit regions must be offered by the provider. Groups are
// resolved by prefix over the provider's region list.
func ResolveRegions(ctx context.Context, api RegionLister, spec config.RegionSpec) ([]Region, error) {
	if spec.IsZero() {
		spec = config.RegionGroup(GroupDefault)
	}

	available, err := api.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	offered := make(map[Region]bool, len(available))
	for _, r := range available {
		offered[r] = true
	}

	if !spec.IsGroup() {
		return resolveList(spec.Names, offered)
	}

	group := strings.ToLower(strings.TrimSpace(spec.Group))
	if group == GroupDefault {
		if !offered[DefaultRegion] {
			return nil, &InvalidRegionError{Region: group, Reason: "default region is not offered by the provider"}
		}
		return []Region{DefaultRegion}, nil
	}

	prefixes, ok := groupPrefixes[group]
	if !ok {
		prefixes = []string{group}
	}

	var out []Region
	for _, r := range available {
		for _, prefix := range prefixes {
			if strings.HasPrefix(string(r), prefix) {
				out = append(out, r)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, &InvalidRegionError{Region: spec.Group, Reason: "no offered region matches the group"}
	}
	return out, nil
}

func resolveList(names []string, offered map[Region]bool) ([]Region, error) {
	out := make([]Region, 0, len(names))
	seen := make(map[Region]bool, len(names))
	for _, name := range names {
		r := Region(strings.TrimSpace(name))
		if r == "" {
			return nil, &InvalidRegionError{Region: name, Reason: "empty region name"}
		}
		if !offered[r] {
			return nil, &InvalidRegionError{Region: name, Reason: "region is not offered by the provider"}
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, &InvalidRegionError{Reason: "no regions given"}
	}
	return out, nil
}
