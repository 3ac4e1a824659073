// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// MaxWebhookURLLength caps accepted webhook URLs.
const MaxWebhookURLLength = 2048

// URLValidator validates webhook URLs against SSRF. A URL is accepted only
// when its scheme is on the allow-list and its hostname resolves to a
// public, non-reserved IP address at validation time.
type URLValidator struct {
	// Schemes is the allowed scheme list. Default: https only.
	Schemes []string

	// AllowLocal permits loopback and private addresses. Intended only
	// for explicitly-flagged local test mode.
	AllowLocal bool

	// lookupIP resolves a hostname to IPs. Overridable in tests.
	lookupIP func(host string) ([]net.IP, error)
}

// NewURLValidator creates a validator with the given scheme allow-list.
// An empty list defaults to https only.
func NewURLValidator(schemes []string, allowLocal bool) *URLValidator {
	if len(schemes) == 0 {
		schemes = []string{"https"}
	}
	return &URLValidator{
		Schemes:    schemes,
		AllowLocal: allowLocal,
		lookupIP:   net.LookupIP,
	}
}

// Validate checks a webhook URL. Failures wrap ErrSSRFRejected so callers
// can record them as security events.
func (v *URLValidator) Validate(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrSSRFRejected)
	}
	if len(rawURL) > MaxWebhookURLLength {
		return fmt.Errorf("%w: URL exceeds %d characters", ErrSSRFRejected, MaxWebhookURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSSRFRejected, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range v.Schemes {
		if scheme == strings.ToLower(s) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: scheme %q not allowed", ErrSSRFRejected, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing hostname", ErrSSRFRejected)
	}

	if v.AllowLocal {
		return nil
	}

	// IP literal: check directly without DNS.
	if ip := net.ParseIP(host); ip != nil {
		if isReservedIP(ip) {
			return fmt.Errorf("%w: %s is a private or reserved address", ErrSSRFRejected, host)
		}
		return nil
	}

	// Hostname: every resolved address must be public. DNS rebinding
	// between validation and send is accepted risk; deployments can
	// enable per-send revalidation.
	ips, err := v.lookupIP(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s: %v", ErrSSRFRejected, host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("%w: %s resolved to no addresses", ErrSSRFRejected, host)
	}
	for _, ip := range ips {
		if isReservedIP(ip) {
			return fmt.Errorf("%w: %s resolves to private or reserved address %s", ErrSSRFRejected, host, ip)
		}
	}

	return nil
}

// isReservedIP reports whether an address must never be a webhook target:
// loopback, RFC 1918 private ranges, link-local (which covers the
// 169.254.169.254 cloud metadata endpoint), unspecified, and multicast.
func isReservedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast() ||
		ip.IsInterfaceLocalMulticast()
}
