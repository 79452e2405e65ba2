package harvester

import (
	"wmharvest/pkg/config"
	"wmharvest/pkg/model"
	"wmharvest/pkg/storage"
	"wmharvest/pkg/webmaster"
)

// Options is the immutable run configuration
type Options struct {
	// Configured hosts; empty means every available host not in ExcludedHosts
	Hosts         config.HostList
	ExcludedHosts []string
	// Regions of list-form hosts
	Regions model.RegionSet

	Days             int
	PageSize         int
	ByURL            bool
	FilterZeroDemand bool
	// ForceRefetch ignores checkpoints and the existing dataset
	ForceRefetch bool

	OutputDir      string
	RunFilePattern string
	KeyColumn      string
}

// OptionsFromConfig copies the run settings out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	hosts := make(config.HostList, len(cfg.Hosts))
	copy(hosts, cfg.Hosts)

	return Options{
		Hosts:            hosts,
		ExcludedHosts:    append([]string(nil), cfg.ExcludedHosts...),
		Regions:          append(model.RegionSet(nil), cfg.Regions...),
		Days:             cfg.Collect.Days,
		PageSize:         cfg.Collect.PageSize,
		ByURL:            cfg.Collect.ByURL,
		FilterZeroDemand: cfg.Collect.FilterZeroDemand,
		ForceRefetch:     cfg.Collect.ForceRefetch,
		OutputDir:        cfg.Output.Directory,
		RunFilePattern:   cfg.Output.RunFilePattern,
		KeyColumn:        cfg.KeyColumn(),
	}
}

func (o Options) withDefaults() Options {
	if o.Days < 1 {
		o.Days = 14
	}
	if o.PageSize <= 0 || o.PageSize > webmaster.MaxPageSize {
		o.PageSize = webmaster.MaxPageSize
	}
	if o.KeyColumn == "" {
		o.KeyColumn = storage.KeyHost
		if o.ByURL {
			o.KeyColumn = storage.KeyURL
		}
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.RunFilePattern == "" {
		o.RunFilePattern = "temp_data_{timestamp}.csv"
	}
	return o
}
