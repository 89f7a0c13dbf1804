package sourceid_test

import (
	"testing"

	"github.com/illmade-knight/go-trailflow/pkg/sourceid"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/stretchr/testify/assert"
)

const logKey = "123456789012_CloudTrail_us-east-1_20140214T2230Z_K0UsfksWvF8TBJZy.json.gz"

func TestIdentifier_Identify(t *testing.T) {
	id := sourceid.NewIdentifier()

	testCases := []struct {
		name string
		key  string
		want types.SourceType
	}{
		{name: "bare log file", key: logKey, want: types.SourceAuditLog},
		{name: "prefixed log file", key: "prefix/AWSLogs/123456789012/CloudTrail/us-east-1/2014/02/14/" + logKey, want: types.SourceAuditLog},
		{name: "random file", key: "somebucket/randomfile.txt", want: types.SourceOther},
		{name: "digest file", key: "123456789012_CloudTrail-Digest_us-east-1_20140214T2230Z.json.gz", want: types.SourceOther},
		{name: "non numeric account", key: "abc_CloudTrail_us-east-1_20140214T2230Z_K0Usfks.json.gz", want: types.SourceOther},
		{name: "bad timestamp", key: "123456789012_CloudTrail_us-east-1_20140214T223Z_K0Usfks.json.gz", want: types.SourceOther},
		{name: "not gzipped", key: "123456789012_CloudTrail_us-east-1_20140214T2230Z_K0Usfks.json", want: types.SourceOther},
		{name: "empty", key: "", want: types.SourceOther},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, id.Identify(tc.key))
		})
	}
}

func TestIdentifier_IdentifyWithAction(t *testing.T) {
	id := sourceid.NewIdentifier()

	assert.Equal(t, types.SourceAuditLog, id.IdentifyWithAction(logKey, "ObjectCreated:Put"))
	assert.Equal(t, types.SourceOther, id.IdentifyWithAction(logKey, "ObjectRemoved:Delete"))
	assert.Equal(t, types.SourceOther, id.IdentifyWithAction("somebucket/randomfile.txt", "ObjectCreated:Put"))
}

func TestSplitBucketKey(t *testing.T) {
	testCases := []struct {
		name       string
		url        string
		wantBucket string
		wantKey    string
		wantOK     bool
	}{
		{name: "path style", url: "http://s3-us-west-2.amazonaws.com/mybucket/a/b/c.ext", wantBucket: "mybucket", wantKey: "a/b/c.ext", wantOK: true},
		{name: "https", url: "https://s3.amazonaws.com/crl-bucket/crl/cert.crl", wantBucket: "crl-bucket", wantKey: "crl/cert.crl", wantOK: true},
		{name: "s3 scheme", url: "s3://mybucket/a/b.crl", wantBucket: "mybucket", wantKey: "a/b.crl", wantOK: true},
		{name: "no host", url: "mybucket/a/b/c.ext", wantOK: false},
		{name: "bucket only", url: "http://s3.amazonaws.com/mybucket", wantOK: false},
		{name: "garbage", url: "::not a url::", wantOK: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, ok := sourceid.SplitBucketKey(tc.url)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantBucket, bucket)
			assert.Equal(t, tc.wantKey, key)
		})
	}
}

func TestExtractAccountID(t *testing.T) {
	testCases := []struct {
		name   string
		key    string
		want   string
		wantOK bool
	}{
		{name: "standard layout", key: "AWSLogs/123456789012/CloudTrail/us-east-1/2014/02/14/" + logKey, want: "123456789012", wantOK: true},
		{name: "extra prefix", key: "org/prod/AWSLogs/123456789012/CloudTrail/us-east-1/2014/02/14/" + logKey, want: "123456789012", wantOK: true},
		{name: "file name only", key: "210987654321_CloudTrail_eu-west-1_20140214T2230Z_abc.json.gz", want: "210987654321", wantOK: true},
		{name: "no account", key: "logs/randomfile.txt", wantOK: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := sourceid.ExtractAccountID(tc.key)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
