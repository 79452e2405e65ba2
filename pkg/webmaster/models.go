package webmaster

import "encoding/json"

// userResponse is the body of GET /v4/user
type userResponse struct {
	UserID json.Number `json:"user_id"`
}

// Host is one site registered in Webmaster
type Host struct {
	HostID         string `json:"host_id"`
	ASCIIHostURL   string `json:"ascii_host_url"`
	UnicodeHostURL string `json:"unicode_host_url"`
	Verified       bool   `json:"verified"`
}

// hostsResponse is the body of GET /v4/user/{user-id}/hosts
type hostsResponse struct {
	Hosts []Host `json:"hosts"`
}

// AnalyticsRequest is the body of the query-analytics list call
type AnalyticsRequest struct {
	DateFrom      string   `json:"date_from"`
	DateTo        string   `json:"date_to"`
	Limit         int      `json:"limit"`
	Offset        int      `json:"offset"`
	TextIndicator string   `json:"text_indicator"`
	RegionIDs     []int    `json:"region_ids,omitempty"`
	Filters       *Filters `json:"filters,omitempty"`
}

// Filters restricts the rows returned by query-analytics
type Filters struct {
	TextFilters []TextFilter `json:"text_filters,omitempty"`
}

// TextFilter matches rows by indicator text
type TextFilter struct {
	TextIndicator string `json:"text_indicator"`
	Operation     string `json:"operation"`
	Value         string `json:"value"`
}

// URLFilter restricts statistics to a single page
func URLFilter(pageURL string) *Filters {
	return &Filters{TextFilters: []TextFilter{{
		TextIndicator: IndicatorURL,
		Operation:     OperationTextMatch,
		Value:         pageURL,
	}}}
}

// AnalyticsResponse is one page of query-analytics results
type AnalyticsResponse struct {
	TextIndicatorToStatistics []IndicatorStatistics `json:"text_indicator_to_statistics"`
	Count                     int                   `json:"count,omitempty"`
}

// IndicatorStatistics holds all statistics of one query (or URL)
type IndicatorStatistics struct {
	TextIndicator TextIndicator `json:"text_indicator"`
	Statistics    []Statistic   `json:"statistics"`
}

// TextIndicator names the query or URL a row belongs to
type TextIndicator struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// Statistic is one metric value for one date. Value is nil when not reported.
type Statistic struct {
	Date  string   `json:"date"`
	Field string   `json:"field"`
	Value *float64 `json:"value"`
}

// apiError is the error body returned by the API
type apiError struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}
