// Package webmaster is a small client for the Yandex Webmaster API v4.
//
// It covers the three calls the harvester needs: resolving the token owner,
// listing hosts and paging through query-analytics statistics. Non-200
// responses are returned as *errors.Error with the type derived from the
// status code (429 is rate_limit, 401/403 are auth, the rest fetch_failed).
// Transport failures are network errors.
package webmaster
