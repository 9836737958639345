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
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// A traced POST must deliver its body to the server intact: dumping
// the request for the log consumes the body stream once.
func TestRoundTripPreservesBody(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		received, err = io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading request body: %v", err)
		}
	}))
	defer srv.Close()

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs,
		&slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	const body = `{"message":{"raw":"dGVzdA=="}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer secret-token")

	client := &http.Client{Transport: Wrap(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("traced POST failed: %v", err)
	}
	resp.Body.Close()

	if string(received) != body {
		t.Errorf("server received body %q, want %q", received, body)
	}
	if !strings.Contains(logs.String(), "[redacted]") {
		t.Errorf("request dump does not redact the Authorization header")
	}
	if strings.Contains(logs.String(), "secret-token") {
		t.Errorf("bearer token leaked into the request dump")
	}
}

func TestRoundTripNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := &http.Client{Transport: Wrap(http.DefaultTransport)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("traced GET failed: %v", err)
	}
	resp.Body.Close()
}
