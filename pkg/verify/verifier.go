// Package verify checks the digital signature that accompanies each delivered
// log file, using the signing certificate and its revocation list.
package verify

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trailflow/pkg/sourceid"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// Object metadata keys written alongside every signed log file.
const (
	MetadataSignature       = "signature"
	MetadataCertificatePath = "certificate-path"
)

// Config configures a SignatureVerifier.
type Config struct {
	// CertificateBucket holds the signing certificates named by certificate-path.
	CertificateBucket string
	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// SignatureVerifier decides the VerificationResult of a Log. It is safe for
// concurrent use.
type SignatureVerifier struct {
	pems       PEMFetcher
	certBucket string
	now        func() time.Time
	logger     zerolog.Logger
}

// NewSignatureVerifier creates a SignatureVerifier.
func NewSignatureVerifier(pems PEMFetcher, cfg Config, logger zerolog.Logger) (*SignatureVerifier, error) {
	if pems == nil {
		return nil, errors.New("PEM fetcher cannot be nil")
	}
	if cfg.CertificateBucket == "" {
		return nil, errors.New("certificate bucket is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SignatureVerifier{
		pems:       pems,
		certBucket: cfg.CertificateBucket,
		now:        cfg.Now,
		logger:     logger.With().Str("component", "SignatureVerifier").Logger(),
	}, nil
}

// Verify records and returns the log's verification result. It never fails:
// anything that prevents a decision yields SignatureNotVerified.
func (v *SignatureVerifier) Verify(ctx context.Context, log *types.Log) types.VerificationResult {
	logger := v.logger.With().Str("bucket", log.Source.Bucket).Str("object_key", log.Source.ObjectKey).Logger()

	result, err := v.verify(ctx, log, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Signature could not be verified.")
		result = types.SignatureNotVerified
	}
	if !log.SetVerificationResult(result) {
		logger.Warn().Str("verification", log.VerificationResult().String()).Msg("Log was already verified, keeping first result.")
	}
	return log.VerificationResult()
}

func (v *SignatureVerifier) verify(ctx context.Context, log *types.Log, logger zerolog.Logger) (types.VerificationResult, error) {
	signature, ok := log.Metadata[MetadataSignature]
	if !ok || signature == "" {
		return 0, errors.New("log has no signature metadata")
	}
	certPath, ok := log.Metadata[MetadataCertificatePath]
	if !ok || certPath == "" {
		return 0, errors.New("log has no certificate-path metadata")
	}

	cert, err := v.certificate(ctx, certPath)
	if err != nil {
		return 0, err
	}
	crl, err := v.revocationList(ctx, cert)
	if err != nil {
		return 0, err
	}

	revoked := isRevoked(crl, cert)
	if revoked {
		logger.Warn().Str("serial", cert.SerialNumber.String()).Msg("Signing certificate is revoked.")
	}
	expired := v.now().After(cert.NotAfter)
	if expired {
		logger.Warn().Time("not_after", cert.NotAfter).Msg("Signing certificate has expired.")
	}

	valid, err := checkLogSignature(cert, log.Bytes, signature)
	if err != nil {
		return 0, err
	}

	switch {
	case !valid:
		return types.InvalidSignature, nil
	case revoked:
		return types.RevokedCertificate, nil
	case expired:
		return types.ExpiredCertificate, nil
	default:
		return types.ValidSignature, nil
	}
}

// certificate fetches the signing certificate and checks it is signed by its own key.
func (v *SignatureVerifier) certificate(ctx context.Context, certPath string) (*x509.Certificate, error) {
	data, err := v.pems.FetchPEM(ctx, v.certBucket, certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch certificate: %w", err)
	}
	der, err := decodePEM(data, "CERTIFICATE")
	if err != nil {
		return nil, fmt.Errorf("certificate %s: %w", certPath, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate %s: %w", certPath, err)
	}
	if err := cert.CheckSignature(x509.SHA256WithRSA, cert.RawTBSCertificate, cert.Signature); err != nil {
		return nil, fmt.Errorf("certificate %s is not self-consistent: %w", certPath, err)
	}
	return cert, nil
}

// revocationList fetches the certificate's single CRL and checks it was issued by it.
func (v *SignatureVerifier) revocationList(ctx context.Context, cert *x509.Certificate) (*x509.RevocationList, error) {
	if n := len(cert.CRLDistributionPoints); n != 1 {
		return nil, fmt.Errorf("certificate has %d CRL distribution points, want exactly 1", n)
	}
	bucket, key, ok := sourceid.SplitBucketKey(cert.CRLDistributionPoints[0])
	if !ok {
		return nil, fmt.Errorf("unusable CRL distribution point %q", cert.CRLDistributionPoints[0])
	}

	data, err := v.pems.FetchPEM(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch CRL: %w", err)
	}
	der, err := decodePEM(data, "X509 CRL")
	if err != nil {
		return nil, fmt.Errorf("CRL %s/%s: %w", bucket, key, err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL %s/%s: %w", bucket, key, err)
	}
	if err := crl.CheckSignatureFrom(cert); err != nil {
		return nil, fmt.Errorf("CRL %s/%s signature check failed: %w", bucket, key, err)
	}
	return crl, nil
}

func isRevoked(crl *x509.RevocationList, cert *x509.Certificate) bool {
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber != nil && entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return true
		}
	}
	return false
}

// checkLogSignature verifies a base64 PKCS#1 v1.5 SHA-256 signature over data.
func checkLogSignature(cert *x509.Certificate, data []byte, signature string) (bool, error) {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("certificate key is %T, want RSA", cert.PublicKey)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil, nil
}

func decodePEM(data []byte, blockType string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("PEM block is %q, want %q", block.Type, blockType)
	}
	return block.Bytes, nil
}
