package model

import (
	"fmt"
	"strconv"
	"strings"
)

// RegionSet is an ordered list of region ids. Empty means all regions.
type RegionSet []int

// IsEmpty reports whether the set places no region restriction
func (rs RegionSet) IsEmpty() bool {
	return len(rs) == 0
}

// String returns the canonical serialization, e.g. "[225, 1]". Empty sets render as "[]".
func (rs RegionSet) String() string {
	parts := make([]string, len(rs))
	for i, id := range rs {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Column returns the dataset representation: the canonical string or the N/A sentinel
func (rs RegionSet) Column() string {
	if rs.IsEmpty() {
		return NotAvailable
	}
	return rs.String()
}

// Equal compares two sets element by element
func (rs RegionSet) Equal(other RegionSet) bool {
	if len(rs) != len(other) {
		return false
	}
	for i := range rs {
		if rs[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseRegionSet parses a dataset region column
func ParseRegionSet(s string) (RegionSet, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == NotAvailable || s == "[]" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid region list %q", s)
	}
	var rs RegionSet
	for _, part := range strings.Split(s[1:len(s)-1], ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid region id in %q: %w", s, err)
		}
		rs = append(rs, id)
	}
	return rs, nil
}
