package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainScript = "checkonaut/script/v1"
	DomainIssue  = "checkonaut/issue/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ScriptDigest identifies script source content. Compiled scripts are cached
// under this digest, so an edited file is never served from a stale entry.
func ScriptDigest(src []byte) string {
	return hashWithDomain(DomainScript, src)
}

// IssueFingerprint computes a stable identity for an issue: the same finding
// on the same object produces the same fingerprint across runs, which lets
// archived runs be compared.
func IssueFingerprint(document, check string, index int, message, severity string) (string, error) {
	obj := IRObject{
		"document": IRString(document),
		"check":    IRString(check),
		"index":    IRNumber(index),
		"message":  IRString(message),
		"severity": IRString(severity),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("IssueFingerprint: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainIssue, canonical), nil
}

// MustIssueFingerprint is like IssueFingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustIssueFingerprint(document, check string, index int, message, severity string) string {
	fp, err := IssueFingerprint(document, check, index, message, severity)
	if err != nil {
		panic(err)
	}
	return fp
}
