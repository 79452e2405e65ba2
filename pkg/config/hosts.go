package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// HostSpec is one configured host.
// PerHost is set for the mapping form, where Regions replace the global region list.
type HostSpec struct {
	ID      string `json:"id"`
	Regions []int  `json:"regions,omitempty"`
	PerHost bool   `json:"per_host,omitempty"`
}

// HostList preserves the configured order of hosts.
//
// In YAML it accepts both shapes:
//
//	hosts:
//	  - https:example.com:443
//
//	hosts:
//	  https:example.com:443: [225]
//	  https:shop.example.com:443: []
type HostList []HostSpec

// HostListFromIDs builds the list form
func HostListFromIDs(ids []string) HostList {
	list := make(HostList, 0, len(ids))
	for _, id := range ids {
		list = append(list, HostSpec{ID: id})
	}
	return list
}

// UnmarshalYAML implements yaml.Unmarshaler
func (h *HostList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var ids []string
		if err := node.Decode(&ids); err != nil {
			return fmt.Errorf("hosts: %w", err)
		}
		*h = HostListFromIDs(ids)
	case yaml.MappingNode:
		list := make(HostList, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			spec := HostSpec{ID: key.Value, PerHost: true}
			if value.Tag != "!!null" {
				if err := value.Decode(&spec.Regions); err != nil {
					return fmt.Errorf("hosts.%s: %w", key.Value, err)
				}
			}
			list = append(list, spec)
		}
		*h = list
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*h = nil
			return nil
		}
		*h = HostListFromIDs([]string{node.Value})
	default:
		return fmt.Errorf("hosts: unsupported YAML node kind %d", node.Kind)
	}
	return nil
}

// MarshalYAML writes the mapping form when any host carries its own regions
func (h HostList) MarshalYAML() (interface{}, error) {
	perHost := false
	for _, spec := range h {
		perHost = perHost || spec.PerHost
	}
	if !perHost {
		ids := make([]string, len(h))
		for i, spec := range h {
			ids[i] = spec.ID
		}
		return ids, nil
	}

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, spec := range h {
		var value yaml.Node
		regions := spec.Regions
		if regions == nil {
			regions = []int{}
		}
		if err := value.Encode(regions); err != nil {
			return nil, err
		}
		value.Style = yaml.FlowStyle
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: spec.ID},
			&value,
		)
	}
	return node, nil
}
