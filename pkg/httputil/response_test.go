package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"key": "value"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"key":"value"}`, w.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name         string
		write        func(w http.ResponseWriter)
		expectedCode int
		expectedBody ErrorResponse
	}{
		{
			name:         "bad request",
			write:        func(w http.ResponseWriter) { WriteBadRequest(w, "bad input") },
			expectedCode: http.StatusBadRequest,
			expectedBody: ErrorResponse{Error: "bad input"},
		},
		{
			name:         "unauthorized",
			write:        func(w http.ResponseWriter) { WriteUnauthorized(w, "authentication required") },
			expectedCode: http.StatusUnauthorized,
			expectedBody: ErrorResponse{Error: "unauthorized", Message: "authentication required"},
		},
		{
			name:         "forbidden",
			write:        func(w http.ResponseWriter) { WriteForbidden(w, "missing deals:create") },
			expectedCode: http.StatusForbidden,
			expectedBody: ErrorResponse{Error: "forbidden", Message: "missing deals:create"},
		},
		{
			name:         "not found",
			write:        func(w http.ResponseWriter) { WriteNotFoundError(w, "role not found") },
			expectedCode: http.StatusNotFound,
			expectedBody: ErrorResponse{Error: "role not found"},
		},
		{
			name:         "internal",
			write:        func(w http.ResponseWriter) { WriteInternalError(w) },
			expectedCode: http.StatusInternalServerError,
			expectedBody: ErrorResponse{Error: "internal server error"},
		},
		{
			name:         "unavailable",
			write:        func(w http.ResponseWriter) { WriteServiceUnavailable(w, "database down") },
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: ErrorResponse{Error: "database down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.expectedCode, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedBody, body)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
}
