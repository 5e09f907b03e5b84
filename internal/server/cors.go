package server

import (
	"net/http"
	"strings"
)

// corsAllowedHeaders lists the request headers browsers may send. Signed
// writes need every signature header.
var corsAllowedHeaders = strings.Join([]string{
	headerContentType,
	headerAuthorization,
	headerCorrelationID,
	headerIdempotencyKey,
	headerSigner,
	headerSignature,
	headerSignatureTimestamp,
	headerSignatureNonce,
}, ", ")

// corsMiddleware answers preflight requests and marks every response as
// readable cross-origin. Credentials are never allowed: writes authenticate
// with request signatures, not cookies.
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Expose-Headers", headerCorrelationID+", Retry-After")
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		hdr.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
	})
}
