// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracehttp

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
)

// traceTransport is an http.RoundTripper that logs a dump of each
// request and response while delegating the real work to another
// http.RoundTripper.  The Authorization header is redacted: this
// client carries OAuth bearer tokens.
type traceTransport struct {
	delegate http.RoundTripper
}

func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	redacted := req.Clone(req.Context())
	if redacted.Header.Get("Authorization") != "" {
		redacted.Header.Set("Authorization", "[redacted]")
	}
	if dump, dumpErr := httputil.DumpRequestOut(redacted, true); dumpErr == nil {
		slog.Debug("http request", "dump", string(dump))
	}
	// The clone shares Body with req.  DumpRequestOut consumed it
	// and left a replayable copy on the clone; hand that back so
	// the real request still carries its body.
	req.Body = redacted.Body
	resp, err = t.delegate.RoundTrip(req)
	if err == nil {
		if dump, dumpErr := httputil.DumpResponse(resp, true); dumpErr == nil {
			slog.Debug("http response", "dump", string(dump))
		}
	}
	return resp, err
}

func Wrap(d http.RoundTripper) http.RoundTripper {
	return &traceTransport{d}
}

// WrapDefaultTransport injects a trace transport into
// http.DefaultTransport.
func WrapDefaultTransport() {
	http.DefaultTransport = Wrap(http.DefaultTransport)
}
