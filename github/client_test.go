package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(server *httptest.Server) *Client {
	c := NewClient(1, nil)
	c.baseURL = server.URL
	c.transport = func(int64) (http.RoundTripper, error) {
		return http.DefaultTransport, nil
	}
	return c
}

func TestIsPullRequestOpen(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{
			name:   "open",
			status: http.StatusOK,
			body:   `{"number": 7, "state": "open", "merged": false}`,
			want:   true,
		},
		{
			name:   "merged",
			status: http.StatusOK,
			body:   `{"number": 7, "state": "closed", "merged": true}`,
			want:   false,
		},
		{
			name:   "closed without merge",
			status: http.StatusOK,
			body:   `{"number": 7, "state": "closed", "merged": false}`,
			want:   false,
		},
		{
			name:   "deleted",
			status: http.StatusNotFound,
			body:   `{"message": "Not Found"}`,
			want:   false,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			body:    `oops`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/acme/api/pulls/7" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := newTestClient(server).IsPullRequestOpen(context.Background(), 99, "acme", "api", 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsPullRequestOpen() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsPullRequestOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}
