package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// headerNameRegex matches an RFC 7230 token
var headerNameRegex = regexp.MustCompile("^[!#$%&'*+\\-.^_`|~0-9A-Za-z]+$")

// ValidateHeaderName validates an HTTP header field name
func ValidateHeaderName(name string) error {
	if !headerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid header name: %q", name)
	}
	return nil
}

// ValidateHeaderValue rejects values that would split the header block
func ValidateHeaderValue(value string) error {
	if strings.ContainsAny(value, "\r\n\x00") {
		return fmt.Errorf("header value contains a control character")
	}
	return nil
}

// ParseHeader splits a "Name=value" or "Name: value" pair
func ParseHeader(pair string) (string, string, error) {
	sep := strings.IndexAny(pair, "=:")
	if sep <= 0 {
		return "", "", fmt.Errorf("header %q must look like Name=value", pair)
	}

	name := strings.TrimSpace(pair[:sep])
	value := strings.TrimSpace(pair[sep+1:])
	if err := ValidateHeaderName(name); err != nil {
		return "", "", err
	}
	if err := ValidateHeaderValue(value); err != nil {
		return "", "", err
	}
	return name, value, nil
}

// ParseHeaders parses every pair into a map. A later duplicate wins.
func ParseHeaders(pairs []string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, err := ParseHeader(pair)
		if err != nil {
			return nil, err
		}
		headers[name] = value
	}
	return headers, nil
}
