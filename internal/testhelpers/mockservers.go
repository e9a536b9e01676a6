package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockPlatformServer is a minimal stand-in for the platform API. It issues
// sequential tokens from every token endpoint and accepts API calls only
// with a token it issued and has not revoked.
type MockPlatformServer struct {
	Server *httptest.Server

	mu          sync.Mutex
	expiresIn   int64
	tokenErr    int
	issued      int
	valid       map[string]bool
	requests    map[string]int
	lastTicket  string
	lastRefresh string
}

// SetupMockPlatformServer starts the server. It is closed automatically when
// the test completes.
func SetupMockPlatformServer(t *testing.T) *MockPlatformServer {
	t.Helper()

	mock := &MockPlatformServer{
		expiresIn: 7200,
		valid:     map[string]bool{},
		requests:  map[string]int{},
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /cgi-bin/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.countAndFail(w, "token") {
			return
		}
		token := mock.issue("app")
		WriteJSON(w, map[string]any{"access_token": token, "expires_in": mock.lifetime()})
	})

	router.HandleFunc("POST /cgi-bin/component/api_component_token", func(w http.ResponseWriter, r *http.Request) {
		if mock.countAndFail(w, "component") {
			return
		}
		var req struct {
			Ticket string `json:"component_verify_ticket"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		mock.mu.Lock()
		mock.lastTicket = req.Ticket
		mock.mu.Unlock()

		token := mock.issue("component")
		WriteJSON(w, map[string]any{"component_access_token": token, "expires_in": mock.lifetime()})
	})

	router.HandleFunc("POST /cgi-bin/component/api_authorizer_token", func(w http.ResponseWriter, r *http.Request) {
		if mock.countAndFail(w, "authorizer") {
			return
		}
		if !mock.accepts(r.URL.Query().Get("component_access_token")) {
			WriteJSON(w, map[string]any{"errcode": 40001, "errmsg": "invalid credential"})
			return
		}
		var req struct {
			RefreshToken string `json:"authorizer_refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		mock.mu.Lock()
		mock.lastRefresh = req.RefreshToken
		mock.mu.Unlock()

		token := mock.issue("authorizer")
		WriteJSON(w, map[string]any{
			"authorizer_access_token":  token,
			"expires_in":               mock.lifetime(),
			"authorizer_refresh_token": "refresh-" + token,
		})
	})

	router.HandleFunc("GET /sns/oauth2/refresh_token", func(w http.ResponseWriter, r *http.Request) {
		if mock.countAndFail(w, "web") {
			return
		}
		mock.mu.Lock()
		mock.lastRefresh = r.URL.Query().Get("refresh_token")
		mock.mu.Unlock()

		token := mock.issue("web")
		WriteJSON(w, map[string]any{
			"access_token":  token,
			"expires_in":    mock.lifetime(),
			"refresh_token": "refresh-" + token,
			"openid":        "o-web",
		})
	})

	// Every other path is an API call that echoes its request body.
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests["api"]++
		mock.mu.Unlock()

		token := r.URL.Query().Get("access_token")
		if token == "" {
			token = r.URL.Query().Get("component_access_token")
		}
		if !mock.accepts(token) {
			WriteJSON(w, map[string]any{"errcode": 42001, "errmsg": "access_token expired"})
			return
		}

		body, _ := io.ReadAll(r.Body)
		WriteJSON(w, map[string]any{"path": r.URL.Path, "method": r.Method, "body": string(body)})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)
	return mock
}

func (m *MockPlatformServer) URL() string {
	return m.Server.URL
}

// Revoke invalidates every token issued so far, as if they had expired.
func (m *MockPlatformServer) Revoke() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = map[string]bool{}
}

// FailTokenRequests makes token endpoints return the given errcode. Zero
// restores normal behaviour.
func (m *MockPlatformServer) FailTokenRequests(errcode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenErr = errcode
}

func (m *MockPlatformServer) SetExpiresIn(seconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// Requests returns how often an endpoint was called: "token", "component",
// "authorizer", "web" or "api".
func (m *MockPlatformServer) Requests(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[endpoint]
}

// LastTicket is the verify ticket sent with the latest component token request.
func (m *MockPlatformServer) LastTicket() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTicket
}

// LastRefreshToken is the refresh token sent with the latest authorizer or web
// token request.
func (m *MockPlatformServer) LastRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefresh
}

func (m *MockPlatformServer) issue(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	token := fmt.Sprintf("%s-token-%d", prefix, m.issued)
	m.valid[token] = true
	return token
}

func (m *MockPlatformServer) accepts(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid[token]
}

func (m *MockPlatformServer) lifetime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresIn
}

func (m *MockPlatformServer) countAndFail(w http.ResponseWriter, endpoint string) bool {
	m.mu.Lock()
	m.requests[endpoint]++
	errcode := m.tokenErr
	m.mu.Unlock()

	if errcode != 0 {
		WriteJSON(w, map[string]any{"errcode": errcode, "errmsg": "token request rejected"})
		return true
	}
	return false
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
