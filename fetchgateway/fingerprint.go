package fetchgateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"

	"github.com/fetchgate/gateway/gwtypes"
)

// Fingerprint derives a cache/coalescing key for req from its method and
// normalized URL. Only GET requests are ever fingerprinted by the gateway;
// callers must not call this for other methods.
func Fingerprint(req *http.Request) gwtypes.Fingerprint {
	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(normalizeURL(req.URL)))

	return gwtypes.Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// normalizeURL strips the fragment, which never reaches the origin and must
// not affect cache identity.
func normalizeURL(u *url.URL) string {
	if u.Fragment == "" && u.RawFragment == "" {
		return u.String()
	}
	cp := *u
	cp.Fragment = ""
	cp.RawFragment = ""
	return cp.String()
}
