package harvester

import (
	"context"
	"strings"

	"wmharvest/pkg/fetcher"
	"wmharvest/pkg/model"
	"wmharvest/pkg/webmaster"
)

// target is a host selected for collection
type target struct {
	hostID  string
	display string
	regions model.RegionSet
}

// job is one planned window together with what the API needs to fetch it
type job struct {
	window model.Window
	hostID string
	url    string
}

// selectTargets applies the host configuration to the hosts available to the user.
// Configured hosts keep their configured order; otherwise the API order is used.
func (h *Harvester) selectTargets(available []webmaster.Host) []target {
	byID := make(map[string]webmaster.Host, len(available))
	for _, host := range available {
		byID[host.HostID] = host
	}

	var targets []target
	if len(h.opts.Hosts) > 0 {
		seen := make(map[string]struct{})
		var missing []string
		for _, spec := range h.opts.Hosts {
			if _, dup := seen[spec.ID]; dup {
				continue
			}
			seen[spec.ID] = struct{}{}

			if _, ok := byID[spec.ID]; !ok {
				missing = append(missing, spec.ID)
				continue
			}
			regions := h.opts.Regions
			if spec.PerHost {
				regions = model.RegionSet(spec.Regions)
			}
			targets = append(targets, target{
				hostID:  spec.ID,
				display: webmaster.FormatHost(spec.ID),
				regions: regions,
			})
		}
		if len(missing) > 0 {
			h.logger.WarnWithFields("Configured hosts are not available to this user", map[string]interface{}{
				"hosts": strings.Join(missing, ", "),
			})
		}
		return targets
	}

	for _, host := range available {
		if h.excluded(host) {
			h.logger.DebugWithFields("Host excluded", map[string]interface{}{"host_id": host.HostID})
			continue
		}
		targets = append(targets, target{
			hostID:  host.HostID,
			display: webmaster.FormatHost(host.HostID),
			regions: h.opts.Regions,
		})
	}
	return targets
}

// excluded matches excluded_hosts entries against the host id and its display forms
func (h *Harvester) excluded(host webmaster.Host) bool {
	names := []string{
		host.HostID,
		webmaster.FormatHost(host.HostID),
		strings.TrimSuffix(host.ASCIIHostURL, "/"),
		strings.TrimSuffix(host.UnicodeHostURL, "/"),
	}
	for _, ex := range h.opts.ExcludedHosts {
		ex = strings.TrimSuffix(strings.TrimSpace(ex), "/")
		if ex == "" {
			continue
		}
		for _, name := range names {
			if name != "" && strings.EqualFold(ex, name) {
				return true
			}
		}
	}
	return false
}

// plan builds the windows of all targets. With URL granularity every page that has
// statistics in the host window becomes its own entity key.
func (h *Harvester) plan(ctx context.Context, userID string, targets []target) ([]job, error) {
	now := h.clock.Now()
	var jobs []job

	for _, t := range targets {
		hostWindow := model.NewWindow(t.display, now, h.opts.Days, t.regions)
		if !h.opts.ByURL {
			jobs = append(jobs, job{window: hostWindow, hostID: t.hostID})
			continue
		}

		urls, err := h.fetcher.ListURLs(ctx, fetcher.Query{
			UserID:   userID,
			HostID:   t.hostID,
			Window:   hostWindow,
			PageSize: h.opts.PageSize,
		})
		if err != nil {
			return jobs, err
		}
		h.logger.InfoWithFields("Enumerated host URLs", map[string]interface{}{
			"host": t.display,
			"urls": len(urls),
		})

		for _, u := range urls {
			w := hostWindow
			w.EntityKey = urlKey(t.display, u)
			jobs = append(jobs, job{window: w, hostID: t.hostID, url: u})
		}
	}
	return jobs, nil
}

// urlKey joins the display host and a page path. Absolute URLs are kept as they are.
func urlKey(display, pageURL string) string {
	if strings.HasPrefix(pageURL, "http://") || strings.HasPrefix(pageURL, "https://") {
		return pageURL
	}
	return display + pageURL
}
