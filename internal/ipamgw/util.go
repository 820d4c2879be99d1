package ipamgw

import (
	"crypto/tls"
	"net/http"
	"regexp"
	"strings"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify mirrors _sanitize_slug: lowercase, non-alphanumeric runs collapsed
// to a single hyphen, leading/trailing hyphens trimmed.
func slugify(s string) string {
	lower := strings.ToLower(s)
	slug := slugNonAlnum.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// insecureTransport returns a transport with TLS verification disabled, for
// deployments that explicitly set IPAM_SSL_VERIFY=false against a
// self-signed internal IPAM endpoint.
func insecureTransport() http.RoundTripper {
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
}
