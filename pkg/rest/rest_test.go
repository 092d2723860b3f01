package rest

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSON(t *testing.T) {
	type input struct {
		URL string `json:"url"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "ok", body: `{"url":"x"}`},
		{name: "empty", body: ``, wantErr: "body must not be empty"},
		{name: "unknown field", body: `{"nope":1}`, wantErr: "unknown field"},
		{name: "wrong type", body: `{"url":1}`, wantErr: `incorrect JSON type for field "url"`},
		{name: "two values", body: `{"url":"x"}{"url":"y"}`, wantErr: "single JSON value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("PUT", "/", strings.NewReader(tt.body))
			var dst input
			err := ReadJSON(r, &dst)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "x", dst.URL)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, 201, Envelope{"data": 1}))
	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":1}`, w.Body.String())
}
