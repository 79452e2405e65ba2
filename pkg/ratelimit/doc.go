// Package ratelimit paces requests to the Webmaster API.
//
// Interval is the politeness delay between consecutive requests.
// SlidingWindow enforces an optional hourly request budget so the harvester
// slows down before the API starts answering with 429.
// Chain combines them:
//
//	limiter := ratelimit.Chain{
//		ratelimit.NewInterval(2*time.Second, clk),
//		ratelimit.NewSlidingWindow(1000, time.Hour, clk),
//	}
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
