package model

import (
	"strings"
	"time"
)

type JobState string

const (
	JobStateRunning JobState = "RUNNING"
	JobStateSuccess JobState = "SUCCESS"
	JobStateFailed  JobState = "FAILED"
)

// Certificate is a certificate record as returned by the TrueNAS v2 API.
// PrivateKey is only present for certificates issued by the NAS itself.
type Certificate struct {
	ID              int    `json:"id"`
	Type            int    `json:"type"`
	Name            string `json:"name"`
	KeyLength       int    `json:"key_length"`
	KeyType         string `json:"key_type"`
	DigestAlgorithm string `json:"digest_algorithm"`

	// Subject fields.
	Common       string `json:"common"`
	Organization string `json:"organization"`
	City         string `json:"city"`
	Country      string `json:"country"`
	State        string `json:"state"`
	Email        string `json:"email"`

	// SAN entries are type-tagged, e.g. "DNS:vpn.example.org".
	SAN []string `json:"san"`

	// DN is the full subject string. All renewals of one identity share it.
	DN string `json:"DN"`

	// Fingerprint as reported by the API: uppercase hex with colon
	// separators. Always normalize before comparing.
	Fingerprint string `json:"fingerprint"`

	Certificate string `json:"certificate"`
	PrivateKey  string `json:"privatekey"`

	// Validity window in ctime format, e.g. "Thu Jan  6 00:00:00 2022".
	From  string `json:"from"`
	Until string `json:"until"`

	SignedBy *CertificateAuthority `json:"signedby"`
}

// CertificateAuthority is read-only from the portal's point of view.
type CertificateAuthority struct {
	ID          int    `json:"id"`
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	DN          string `json:"DN"`
	Fingerprint string `json:"fingerprint"`
	Certificate string `json:"certificate"`
	From        string `json:"from"`
	Until       string `json:"until"`
}

// Job is an asynchronous unit of work tracked by the NAS. It is polled,
// never pushed. RUNNING is the only non-terminal state.
type Job struct {
	ID     int64        `json:"id"`
	Method string       `json:"method"`
	State  JobState     `json:"state"`
	Error  string       `json:"error"`
	Result *Certificate `json:"result"`
}

// validityLayout is the ctime-style layout used by the from/until fields.
const validityLayout = "Mon Jan  2 15:04:05 2006"

// RemainingDays returns the number of whole days until the certificate
// expires, negative once it has. Returns 0 if the until field is unparsable.
func (c Certificate) RemainingDays(now time.Time) int {
	until, err := time.Parse(validityLayout, c.Until)
	if err != nil {
		return 0
	}
	return int(until.Sub(now).Hours() / 24)
}

// NormalizeFingerprint maps the API's "AA:BB:..." form and any user supplied
// variant onto the canonical lowercase, separator-free form.
func NormalizeFingerprint(fp string) string {
	fp = strings.ToLower(fp)
	fp = strings.ReplaceAll(fp, ":", "")
	return strings.TrimSpace(fp)
}

// SANValue strips the type tag of a SAN entry: "DNS:vpn.example.org"
// becomes "vpn.example.org". Untagged entries are returned unchanged.
func SANValue(entry string) string {
	if idx := strings.Index(entry, ":"); idx >= 0 {
		return entry[idx+1:]
	}
	return entry
}
