package harvester

import (
	"testing"

	"wmharvest/pkg/config"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
	"wmharvest/pkg/webmaster"
)

var availableHosts = []webmaster.Host{
	{HostID: "https:example.com:443", ASCIIHostURL: "https://example.com/"},
	{HostID: "http:blog.example.com:80", ASCIIHostURL: "http://blog.example.com/"},
	{HostID: "https:shop.example.com:8443", ASCIIHostURL: "https://shop.example.com:8443/"},
}

func TestSelectTargets(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []target
	}{
		{
			name: "all hosts",
			opts: Options{Regions: model.RegionSet{225}},
			want: []target{
				{"https:example.com:443", "https://example.com", model.RegionSet{225}},
				{"http:blog.example.com:80", "http://blog.example.com", model.RegionSet{225}},
				{"https:shop.example.com:8443", "https://shop.example.com:8443", model.RegionSet{225}},
			},
		},
		{
			name: "excluded by id and by url",
			opts: Options{ExcludedHosts: []string{"https:example.com:443", "http://blog.example.com/"}},
			want: []target{
				{"https:shop.example.com:8443", "https://shop.example.com:8443", nil},
			},
		},
		{
			name: "list keeps configured order and drops unavailable hosts",
			opts: Options{
				Hosts:   config.HostListFromIDs([]string{"http:blog.example.com:80", "https:gone.example.com:443", "https:example.com:443"}),
				Regions: model.RegionSet{1},
			},
			want: []target{
				{"http:blog.example.com:80", "http://blog.example.com", model.RegionSet{1}},
				{"https:example.com:443", "https://example.com", model.RegionSet{1}},
			},
		},
		{
			name: "mapping uses per-host regions",
			opts: Options{
				Hosts: config.HostList{
					{ID: "https:example.com:443", Regions: []int{225, 1}, PerHost: true},
					{ID: "http:blog.example.com:80", PerHost: true},
				},
				Regions: model.RegionSet{213},
			},
			want: []target{
				{"https:example.com:443", "https://example.com", model.RegionSet{225, 1}},
				{"http:blog.example.com:80", "http://blog.example.com", nil},
			},
		},
		{
			name: "excluded hosts do not apply to configured hosts",
			opts: Options{
				Hosts:         config.HostListFromIDs([]string{"https:example.com:443"}),
				ExcludedHosts: []string{"https:example.com:443"},
			},
			want: []target{
				{"https:example.com:443", "https://example.com", nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.opts, Deps{Logger: logger.NewNopLogger()})
			got := h.selectTargets(availableHosts)

			if len(got) != len(tt.want) {
				t.Fatalf("got %d targets %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i].hostID != tt.want[i].hostID || got[i].display != tt.want[i].display {
					t.Errorf("target %d = %+v, want %+v", i, got[i], tt.want[i])
				}
				if !got[i].regions.Equal(tt.want[i].regions) {
					t.Errorf("target %d regions = %v, want %v", i, got[i].regions, tt.want[i].regions)
				}
			}
		})
	}
}

func TestSelectTargetsReportsMissingHosts(t *testing.T) {
	log := logger.NewTestLogger()
	h := New(Options{Hosts: config.HostListFromIDs([]string{"https:gone.example.com:443"})}, Deps{Logger: log})

	if got := h.selectTargets(availableHosts); len(got) != 0 {
		t.Errorf("expected no targets, got %+v", got)
	}
	if !log.HasMessage("WARN", "Configured hosts are not available to this user") {
		t.Error("missing hosts were not reported")
	}
}

func TestURLKey(t *testing.T) {
	tests := []struct {
		display, url, want string
	}{
		{"https://example.com", "/catalog/shoes", "https://example.com/catalog/shoes"},
		{"https://example.com", "https://example.com/a", "https://example.com/a"},
	}
	for _, tt := range tests {
		if got := urlKey(tt.display, tt.url); got != tt.want {
			t.Errorf("urlKey(%q, %q) = %q, want %q", tt.display, tt.url, got, tt.want)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Collect.ByURL = true
	cfg.Regions = []int{225}

	opts := OptionsFromConfig(cfg)
	cfg.Regions[0] = 1

	if opts.KeyColumn != "url" {
		t.Errorf("KeyColumn = %q, want url", opts.KeyColumn)
	}
	if !opts.Regions.Equal(model.RegionSet{225}) {
		t.Errorf("options share the config slice: %v", opts.Regions)
	}
	if opts.Days != 14 || opts.PageSize != 500 || !opts.FilterZeroDemand {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}
