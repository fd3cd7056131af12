package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidSignature reports whether r carries a valid X-Twilio-Signature for
// webhookURL. The form must already be parsed.
func ValidSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	expected := Sign(authToken, webhookURL, r.PostForm)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign computes the signature Twilio attaches to a webhook: base64 HMAC-SHA1
// over the URL followed by every form key and value in key order.
func Sign(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
