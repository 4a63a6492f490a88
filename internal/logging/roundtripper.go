package logging

import (
	"net/http"
	"net/http/httputil"
)

// loggingRoundTripper logs the request/response trace of every HTTP
// call an http.Client makes, with the Authorization header redacted.
// Adapted from the teacher's internal/debug round-tripper, which wraps
// every backend's HTTP transport the same way; here it is a plain
// decorator gated by the same MONKEY_DEBUG switch as Log, rather than
// a separate build-tagged debug/release pair, since this module has
// exactly one such transport to wrap (the S3 driver's minio client).
type loggingRoundTripper struct {
	next http.RoundTripper
}

// NewLoggingTransport wraps next so every request and response is
// traced via Log when debug logging is enabled. It is a no-op pass
// through when MONKEY_DEBUG is unset.
func NewLoggingTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return loggingRoundTripper{next: next}
}

func redactAuth(header http.Header) map[string][]string {
	removed := make(map[string][]string)
	if v, ok := header["Authorization"]; ok {
		removed["Authorization"] = v
		header["Authorization"] = []string{"**redacted**"}
	}
	return removed
}

func restoreHeader(header http.Header, saved map[string][]string) {
	for k, v := range saved {
		header[k] = v
	}
}

func (tr loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !opts.enabled {
		return tr.next.RoundTrip(req)
	}

	saved := redactAuth(req.Header)
	if trace, err := httputil.DumpRequestOut(req, false); err == nil {
		Log("------------  HTTP REQUEST -----------\n%s", trace)
	}
	restoreHeader(req.Header, saved)

	res, err := tr.next.RoundTrip(req)
	if err != nil {
		Log("RoundTrip() returned error: %v", err)
		return res, err
	}

	if res != nil {
		saved := redactAuth(res.Header)
		if trace, err := httputil.DumpResponse(res, false); err == nil {
			Log("------------  HTTP RESPONSE ----------\n%s", trace)
		}
		restoreHeader(res.Header, saved)
	}

	return res, err
}
