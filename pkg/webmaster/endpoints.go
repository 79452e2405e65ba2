package webmaster

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the production API host
	DefaultBaseURL = "https://api.webmaster.yandex.net"

	// APIVersion prefixes every endpoint path
	APIVersion = "/v4"

	// MaxPageSize is the largest limit the query-analytics endpoint accepts
	MaxPageSize = 500
)

// Text indicators select what the query-analytics rows are keyed by
const (
	IndicatorQuery = "QUERY"
	IndicatorURL   = "URL"
)

// OperationTextMatch filters rows whose indicator text matches the value
const OperationTextMatch = "TEXT_MATCH"

// UserPath returns the path resolving the token owner
func UserPath() string {
	return APIVersion + "/user"
}

// HostsPath returns the path listing the user's hosts
func HostsPath(userID string) string {
	return fmt.Sprintf("%s/user/%s/hosts", APIVersion, url.PathEscape(userID))
}

// QueryAnalyticsPath returns the path of the query-analytics list endpoint
func QueryAnalyticsPath(userID, hostID string) string {
	return fmt.Sprintf("%s/user/%s/hosts/%s/query-analytics/list",
		APIVersion, url.PathEscape(userID), url.PathEscape(hostID))
}

// FormatHost converts a host id like "https:example.com:443" into the display URL
// "https://example.com". Default ports are dropped; other ports are kept.
// Values that are not host ids are returned unchanged.
func FormatHost(hostID string) string {
	scheme, rest, ok := strings.Cut(hostID, ":")
	if !ok || (scheme != "http" && scheme != "https") || strings.HasPrefix(rest, "//") {
		return hostID
	}

	host, port, hasPort := strings.Cut(rest, ":")
	if hasPort && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}
	return scheme + "://" + host
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}
