package integration

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wrale/device-flow-session/internal/deviceflow"
)

// waitForState polls the status endpoint until it reports want
func waitForState(t *testing.T, s *TestSuite, want deviceflow.State, timeout time.Duration) deviceflow.Status {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		got := getStatus(t, s)
		if got.Type == want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %q after %v, want %q", got.Type, timeout, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func getStatus(t *testing.T, s *TestSuite) deviceflow.Status {
	t.Helper()

	resp, err := http.Get(s.App.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	var status deviceflow.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	return status
}

type startResponse struct {
	Success bool `json:"success"`
	Data    struct {
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
	} `json:"data"`
}

func startFlow(t *testing.T, s *TestSuite) startResponse {
	t.Helper()

	resp, err := http.Post(s.App.URL+"/start-device-flow", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /start-device-flow: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("start status = %d, body %s", resp.StatusCode, body)
	}

	var start startResponse
	if err := json.NewDecoder(resp.Body).Decode(&start); err != nil {
		t.Fatalf("decoding start response: %v", err)
	}
	return start
}

func decide(t *testing.T, s *TestSuite, action, userCode string) {
	t.Helper()

	resp, err := http.PostForm(s.IDP.URL+"/realms/projetcis/device/"+action, url.Values{"user_code": {userCode}})
	if err != nil {
		t.Fatalf("POST /device/%s: %v", action, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s status = %d", action, resp.StatusCode)
	}
}

// streamEvents decodes the event stream into a channel until the body closes
func streamEvents(t *testing.T, s *TestSuite) <-chan deviceflow.Event {
	t.Helper()

	req, err := http.NewRequestWithContext(s.Ctx, http.MethodGet, s.App.URL+"/events", nil)
	if err != nil {
		t.Fatalf("creating events request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	out := make(chan deviceflow.Event, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var ev deviceflow.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			out <- ev
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan deviceflow.Event, timeout time.Duration) deviceflow.Event {
	t.Helper()

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(timeout):
		t.Fatalf("no event within %v", timeout)
	}
	return deviceflow.Event{}
}
