package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeBroker struct {
	connected bool
}

func (f fakeBroker) CheckConnection() bool { return f.connected }

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		broker             BrokerChecker
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy with nil pool and nil broker",
			broker:             nil,
			expectedStatusCode: http.StatusOK,
			expectedStatus: Status{
				OK:       true,
				Message:  "ok",
				Database: true,
				Broker:   true,
			},
		},
		{
			name:               "healthy with connected broker",
			broker:             fakeBroker{connected: true},
			expectedStatusCode: http.StatusOK,
			expectedStatus: Status{
				OK:       true,
				Message:  "ok",
				Database: true,
				Broker:   true,
			},
		},
		{
			name:               "unhealthy with disconnected broker",
			broker:             fakeBroker{connected: false},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus: Status{
				OK:       false,
				Message:  "broker unreachable",
				Database: true,
				Broker:   false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPHandler(nil, tt.broker)

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}

			var status Status
			if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
				t.Fatalf("HTTPHandler() response JSON parse error: %v", err)
			}

			if status.OK != tt.expectedStatus.OK {
				t.Errorf("Status.OK = %v, want %v", status.OK, tt.expectedStatus.OK)
			}
			if status.Message != tt.expectedStatus.Message {
				t.Errorf("Status.Message = %q, want %q", status.Message, tt.expectedStatus.Message)
			}
			if status.Database != tt.expectedStatus.Database {
				t.Errorf("Status.Database = %v, want %v", status.Database, tt.expectedStatus.Database)
			}
			if status.Broker != tt.expectedStatus.Broker {
				t.Errorf("Status.Broker = %v, want %v", status.Broker, tt.expectedStatus.Broker)
			}
		})
	}
}
