package repo

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}
