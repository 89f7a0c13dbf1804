package types

import (
	"sync"
)

// VerificationResult is the terminal outcome of checking a log file's signature.
type VerificationResult int

const (
	Unverified VerificationResult = iota
	ValidSignature
	InvalidSignature
	RevokedCertificate
	ExpiredCertificate
	SignatureNotVerified
)

func (r VerificationResult) String() string {
	switch r {
	case ValidSignature:
		return "ValidSignature"
	case InvalidSignature:
		return "InvalidSignature"
	case RevokedCertificate:
		return "RevokedCertificate"
	case ExpiredCertificate:
		return "ExpiredCertificate"
	case SignatureNotVerified:
		return "SignatureNotVerified"
	default:
		return "Unverified"
	}
}

// Log is a downloaded log file. Only the verification result changes after creation,
// and only once.
type Log struct {
	Source   Source
	Bytes    []byte
	Metadata map[string]string

	mu     sync.Mutex
	result VerificationResult
}

// NewLog wraps downloaded bytes and their object metadata.
func NewLog(source Source, data []byte, metadata map[string]string) *Log {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Log{Source: source, Bytes: data, Metadata: metadata}
}

// VerificationResult returns the current result; Unverified until a verifier ran.
func (l *Log) VerificationResult() VerificationResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// SetVerificationResult records the terminal verification outcome. It returns false,
// leaving the stored result untouched, if a result was already recorded or if r is
// Unverified.
func (l *Log) SetVerificationResult(r VerificationResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.result != Unverified || r == Unverified {
		return false
	}
	l.result = r
	return true
}
