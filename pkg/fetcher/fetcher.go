package fetcher

import (
	"context"
	"errors"
	"iter"
	"time"

	"wmharvest/pkg/clock"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
	"wmharvest/pkg/ratelimit"
	"wmharvest/pkg/retry"
	"wmharvest/pkg/webmaster"
)

// AnalyticsAPI is the part of the Webmaster client the fetcher needs
type AnalyticsAPI interface {
	QueryAnalytics(ctx context.Context, userID, hostID string, req webmaster.AnalyticsRequest) (*webmaster.AnalyticsResponse, error)
}

// Query describes what to page through
type Query struct {
	UserID    string
	HostID    string
	Window    model.Window
	Indicator string
	// URL restricts statistics to one page when set
	URL      string
	PageSize int
}

// Page is one response of the paginated endpoint
type Page struct {
	Offset  int
	Items   []webmaster.IndicatorStatistics
	HasMore bool
	// Failed marks a page dropped after a non-success response
	Failed bool
	// RateLimited marks a failed page whose quota waits ran out (rate_limit.max_waits)
	RateLimited bool
}

// Options configures a Fetcher
type Options struct {
	// Rate-limit recovery
	Quantum  time.Duration
	Grace    time.Duration
	MaxWaits int

	// Transport retries
	RetryAttempts  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// OnRateLimit is called before each rate-limit wait
	OnRateLimit func(q Query, wait time.Duration)
	// OnPage is called after every request, failed or not
	OnPage func(q Query, page Page)
}

// Fetcher pages through query-analytics results
type Fetcher struct {
	api     AnalyticsAPI
	limiter ratelimit.Limiter
	clock   clock.Clock
	opts    Options
	logger  logger.Logger
}

// New creates a Fetcher. limiter paces every request and may be nil.
func New(api AnalyticsAPI, limiter ratelimit.Limiter, c clock.Clock, opts Options, log logger.Logger) *Fetcher {
	if c == nil {
		c = clock.System{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.Quantum <= 0 {
		opts.Quantum = time.Hour
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	return &Fetcher{api: api, limiter: limiter, clock: c, opts: opts, logger: log}
}

// FetchPage requests the page at offset. Rate-limit responses are waited out and
// retried; any other failure yields an empty page with Failed set. The only
// returned error is context cancellation.
func (f *Fetcher) FetchPage(ctx context.Context, q Query, offset int) (Page, error) {
	log := f.logger.WithFields(map[string]interface{}{
		"host_id":   q.HostID,
		"indicator": q.Indicator,
		"date_from": q.Window.DateFrom,
		"date_to":   q.Window.DateTo,
		"offset":    offset,
	})
	if q.URL != "" {
		log = log.WithField("url", q.URL)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Page{}, err
		}
	}

	req := q.request(offset)
	resp, err := retry.DoWithResult(ctx, func() (*webmaster.AnalyticsResponse, error) {
		return f.send(ctx, q, req, log)
	}, f.rateLimitPolicy(q, log))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, ctxErr
		}
		log.WithError(err).WarnWithFields("Page fetch failed", map[string]interface{}{
			"error_type": string(errs.TypeOf(err)),
		})
		page := Page{Offset: offset, Failed: true, RateLimited: errs.IsType(err, errs.ErrorTypeRateLimit)}
		f.notifyPage(q, page)
		return page, nil
	}

	page := Page{
		Offset:  offset,
		Items:   resp.TextIndicatorToStatistics,
		HasMore: q.PageSize > 0 && len(resp.TextIndicatorToStatistics) == q.PageSize,
	}
	log.DebugWithFields("Page fetched", map[string]interface{}{
		"items":    len(page.Items),
		"has_more": page.HasMore,
	})
	f.notifyPage(q, page)
	return page, nil
}

// send performs one logical request, retrying transport failures
func (f *Fetcher) send(ctx context.Context, q Query, req webmaster.AnalyticsRequest, log logger.Logger) (*webmaster.AnalyticsResponse, error) {
	return retry.DoWithResult(ctx, func() (*webmaster.AnalyticsResponse, error) {
		return f.api.QueryAnalytics(ctx, q.UserID, q.HostID, req)
	}, &retry.Config{
		MaxAttempts: f.opts.RetryAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    f.opts.InitialBackoff,
			MaxDelay:     f.opts.MaxBackoff,
			Multiplier:   f.opts.Multiplier,
			JitterFactor: 0.1,
		},
		RetryIf: retry.OnTypes(errs.ErrorTypeNetwork),
		Clock:   f.clock,
		Logger:  log,
	})
}

// rateLimitPolicy waits for the next quota window on every 429
func (f *Fetcher) rateLimitPolicy(q Query, log logger.Logger) *retry.Config {
	maxAttempts := 0
	if f.opts.MaxWaits > 0 {
		maxAttempts = f.opts.MaxWaits + 1
	}

	return &retry.Config{
		MaxAttempts: maxAttempts,
		Backoff: &retry.QuantumBackoff{
			Quantum: f.opts.Quantum,
			Grace:   f.opts.Grace,
			Clock:   f.clock,
		},
		RetryIf: retry.OnTypes(errs.ErrorTypeRateLimit),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.WarnWithFields("Rate limit reached, waiting for the next quota window", map[string]interface{}{
				"attempt":   attempt,
				"wait":      delay,
				"resume_at": f.clock.Now().Add(delay).Format(time.RFC3339),
			})
			if f.opts.OnRateLimit != nil {
				f.opts.OnRateLimit(q, delay)
			}
		},
		Clock:  f.clock,
		Logger: log,
	}
}

func (f *Fetcher) notifyPage(q Query, page Page) {
	if f.opts.OnPage != nil {
		f.opts.OnPage(q, page)
	}
}

// Pages lazily walks the result set from offset 0, stopping after the first page
// without more data. Iteration ends early when ctx is cancelled; the error is yielded.
func (f *Fetcher) Pages(ctx context.Context, q Query) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for offset := 0; ; offset += q.PageSize {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}

			page, err := f.FetchPage(ctx, q, offset)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if !yield(page, nil) || !page.HasMore {
				return
			}
		}
	}
}

// ListURLs enumerates the page URLs that have statistics in the window
func (f *Fetcher) ListURLs(ctx context.Context, q Query) ([]string, error) {
	q.Indicator = webmaster.IndicatorURL
	q.URL = ""

	seen := make(map[string]struct{})
	var urls []string
	for page, err := range f.Pages(ctx, q) {
		if err != nil {
			return urls, err
		}
		for _, item := range page.Items {
			u := item.TextIndicator.Value
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// request builds the API body for one page
func (q Query) request(offset int) webmaster.AnalyticsRequest {
	indicator := q.Indicator
	if indicator == "" {
		indicator = webmaster.IndicatorQuery
	}
	req := webmaster.AnalyticsRequest{
		DateFrom:      q.Window.DateFrom,
		DateTo:        q.Window.DateTo,
		Limit:         q.PageSize,
		Offset:        offset,
		TextIndicator: indicator,
	}
	if !q.Window.Regions.IsEmpty() {
		req.RegionIDs = []int(q.Window.Regions)
	}
	if q.URL != "" {
		req.Filters = webmaster.URLFilter(q.URL)
	}
	return req
}

// IsCancelled reports whether err came from context cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
