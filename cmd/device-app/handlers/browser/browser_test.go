package browser

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common/test"
	"github.com/wrale/device-flow-session/internal/deviceflow"
)

func TestOpenBrowser(t *testing.T) {
	pending := deviceflow.DeviceSession{
		UserCode:                "BCDF-GHJK",
		VerificationURI:         "http://idp/device",
		VerificationURIComplete: "http://idp/device?user_code=BCDF-GHJK",
	}

	tests := []struct {
		name          string
		session       *deviceflow.DeviceSession
		activationURL string
		openErr       error
		wantStatus    int
		wantOpened    string
		wantBody      map[string]any
	}{
		{
			name:       "no active flow",
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"success": false, "error": deviceflow.ErrNoActiveFlow.Error()},
		},
		{
			name:       "complete verification uri",
			session:    &pending,
			wantStatus: http.StatusOK,
			wantOpened: pending.VerificationURIComplete,
			wantBody:   map[string]any{"success": true, "url": pending.VerificationURIComplete},
		},
		{
			name:          "activation url template",
			session:       &pending,
			activationURL: "http://localhost:3000/activate?code={code}",
			wantStatus:    http.StatusOK,
			wantOpened:    "http://localhost:3000/activate?code=BCDF-GHJK",
			wantBody:      map[string]any{"success": true, "url": "http://localhost:3000/activate?code=BCDF-GHJK"},
		},
		{
			name:       "opener fails",
			session:    &pending,
			openErr:    errors.New("no display"),
			wantStatus: http.StatusInternalServerError,
			wantOpened: pending.VerificationURIComplete,
			wantBody:   map[string]any{"success": false, "error": "failed to open browser"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &test.MockSession{
				SessionFunc: func() (deviceflow.DeviceSession, bool) {
					if tt.session == nil {
						return deviceflow.DeviceSession{}, false
					}
					return *tt.session, true
				},
			}

			var opened string
			h := New(Config{
				Session:       session,
				ActivationURL: tt.activationURL,
				Open: func(url string) error {
					opened = url
					return tt.openErr
				},
				Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			})

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/open-browser", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			if opened != tt.wantOpened {
				t.Errorf("opened %q, want %q", opened, tt.wantOpened)
			}

			var got map[string]any
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
