package sourceid

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// CreateAction is the storage event name that accompanies a log delivery.
const CreateAction = "ObjectCreated:Put"

// auditLogKey matches <accountId>_<Product>_<region>_<YYYYMMDDTHHMMZ>_<token>.json.gz,
// optionally under a path prefix.
var auditLogKey = regexp.MustCompile(`(?:^|/)\d+_[A-Za-z0-9]+_[A-Za-z0-9-]+_\d{8}T\d{4}Z_[A-Za-z0-9]+\.json\.gz$`)

var digits = regexp.MustCompile(`^\d+$`)

// Identifier classifies object keys. It is stateless and safe for concurrent use.
type Identifier struct{}

// NewIdentifier returns an Identifier.
func NewIdentifier() Identifier { return Identifier{} }

// Identify classifies an object key by its shape alone.
func (Identifier) Identify(objectKey string) types.SourceType {
	if auditLogKey.MatchString(objectKey) {
		return types.SourceAuditLog
	}
	return types.SourceOther
}

// IdentifyWithAction classifies an object key delivered with a storage event name.
// Anything other than a create/put event is Other, whatever the key looks like.
func (i Identifier) IdentifyWithAction(objectKey, action string) types.SourceType {
	if action != CreateAction {
		return types.SourceOther
	}
	return i.Identify(objectKey)
}

// SplitBucketKey decomposes an object URL into bucket and key. Both path-style
// http(s) URLs (https://host/bucket/key) and s3://bucket/key are understood.
func SplitBucketKey(rawURL string) (bucket, key string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", "", false
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch strings.ToLower(u.Scheme) {
	case "s3":
		bucket, key = u.Host, path
	case "http", "https":
		bucket, key, _ = strings.Cut(path, "/")
	default:
		return "", "", false
	}
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// ExtractAccountID finds the account id in a log object key. The segment following
// AWSLogs/ wins; otherwise the numeric prefix of the file name is used.
func ExtractAccountID(objectKey string) (string, bool) {
	segments := strings.Split(objectKey, "/")
	for i, s := range segments {
		if s == "AWSLogs" && i+1 < len(segments) && digits.MatchString(segments[i+1]) {
			return segments[i+1], true
		}
	}

	file := segments[len(segments)-1]
	prefix, _, found := strings.Cut(file, "_")
	if found && digits.MatchString(prefix) {
		return prefix, true
	}
	return "", false
}
