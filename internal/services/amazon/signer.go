package amazon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	signingService   = "ProductAdvertisingAPI"
	contentType      = "application/json; charset=utf-8"
	signedHeaderList = "content-type;host;x-amz-date;x-amz-target"
)

// Signer produces AWS Signature Version 4 headers for Product Advertising
// API requests. All requests are POSTs with a JSON body and no query string,
// so the canonical form is fixed apart from host, path, target and payload.
type Signer struct {
	accessKey string
	secretKey string
	region    string
	now       func() time.Time
}

// NewSigner creates a signer for the given credential pair and region.
func NewSigner(accessKey, secretKey, region string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		now:       time.Now,
	}
}

// SignedHeaders returns the headers to attach to a request: Authorization,
// Content-Type, X-Amz-Date and X-Amz-Target. The Host header is derived from
// the request URL by the HTTP client and must match the host signed here.
func (s *Signer) SignedHeaders(host, path, target string, payload []byte) map[string]string {
	now := s.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	canonicalHeaders := "content-type:" + contentType + "\n" +
		"host:" + host + "\n" +
		"x-amz-date:" + amzDate + "\n" +
		"x-amz-target:" + target + "\n"

	payloadHash := hexSHA256(payload)

	canonicalRequest := strings.Join([]string{
		"POST",
		path,
		"",
		canonicalHeaders,
		signedHeaderList,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{dateStamp, s.region, signingService, "aws4_request"}, "/")

	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		credentialScope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	key := signingKey(s.secretKey, dateStamp, s.region)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	authorization := signingAlgorithm +
		" Credential=" + s.accessKey + "/" + credentialScope +
		", SignedHeaders=" + signedHeaderList +
		", Signature=" + signature

	return map[string]string{
		"Authorization": authorization,
		"Content-Type":  contentType,
		"X-Amz-Date":    amzDate,
		"X-Amz-Target":  target,
	}
}

// signingKey derives the per-day signing key through the four-step HMAC
// chain defined by SigV4.
func signingKey(secretKey, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, signingService)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
