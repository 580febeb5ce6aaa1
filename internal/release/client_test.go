package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIURL:     server.URL,
		UploadURL:  server.URL,
		Owner:      "inful",
		Repo:       "db-binaries",
		Token:      token,
		PerPage:    2,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestListReleases_PaginatesUntilEmptyPage(t *testing.T) {
	pages := map[string]string{
		"1": `[{"id":1,"tag_name":"mysql-8.4","assets":[{"id":11,"name":"mysql-8.4-linux-x64.tar.gz","size":10,"browser_download_url":"https://dl/x","url":"https://api/x"}]},{"id":2,"tag_name":"mysql-5.7","assets":[]}]`,
		"2": `[{"id":3,"tag_name":"postgres-16.3","assets":[]}]`,
		"3": `[]`,
	}
	var requestedPages []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/repos/inful/db-binaries/releases") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github+json" {
			t.Errorf("Accept = %q", got)
		}
		page := r.URL.Query().Get("page")
		requestedPages = append(requestedPages, page)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(pages[page]))
	}))
	defer server.Close()

	client := newTestClient(t, server, "test-token")
	releases, err := client.ListReleases(context.Background())
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}

	if len(releases) != 3 {
		t.Fatalf("got %d releases, want 3", len(releases))
	}
	if len(requestedPages) != 3 || requestedPages[2] != "3" {
		t.Errorf("requested pages %v, want [1 2 3]: listing must page until an empty page", requestedPages)
	}
	if releases[0].Tag != "mysql-8.4" || releases[2].Tag != "postgres-16.3" {
		t.Errorf("release order not preserved: %s ... %s", releases[0].Tag, releases[2].Tag)
	}
	if len(releases[0].Assets) != 1 || releases[0].Assets[0].Name != "mysql-8.4-linux-x64.tar.gz" {
		t.Errorf("asset conversion wrong: %+v", releases[0].Assets)
	}
}

func TestListReleases_NoTokenOmitsAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header must be absent without a token")
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	if _, err := client.ListReleases(context.Background()); err != nil {
		t.Fatalf("ListReleases: %v", err)
	}
}

func TestListReleases_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server, "t")
	_, err := client.ListReleases(context.Background())
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if !errors.IsCategory(err, errors.CategoryNetwork) {
		t.Errorf("expected network category, got %v", errors.GetCategory(err))
	}
	if !errors.IsRetryable(err) {
		t.Error("5xx listing failure should be retryable")
	}
}

func TestDownloadAsset(t *testing.T) {
	const payload = "archive-bytes"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/octet-stream" {
			t.Errorf("Accept = %q, want octet-stream", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("same-host download should carry the token, got %q", got)
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(t, server, "tok")
	body, size, err := client.DownloadAsset(context.Background(), server.URL+"/assets/11")
	if err != nil {
		t.Fatalf("DownloadAsset: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Errorf("body = %q, want %q", data, payload)
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
}

func TestDownloadAsset_ForeignHostOmitsToken(t *testing.T) {
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("token must not leak to non-API hosts")
		}
		_, _ = w.Write([]byte("x"))
	}))
	defer foreign.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer api.Close()

	client := newTestClient(t, api, "secret")
	client.httpClient = foreign.Client()
	body, _, err := client.DownloadAsset(context.Background(), foreign.URL+"/dl/a.tar.gz")
	if err != nil {
		t.Fatalf("DownloadAsset: %v", err)
	}
	_ = body.Close()
}

func TestDownloadAsset_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	_, _, err := client.DownloadAsset(context.Background(), server.URL+"/assets/404")
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if errors.IsRetryable(err) {
		t.Error("404 download should not be retryable")
	}
}

func TestDeleteAsset(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusNoContent, false},
		{"already gone", http.StatusNotFound, false},
		{"server failure", http.StatusInternalServerError, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				if r.URL.Path != "/repos/inful/db-binaries/releases/assets/42" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := newTestClient(t, server, "t")
			err := client.DeleteAsset(context.Background(), 42)
			if (err != nil) != tc.wantErr {
				t.Errorf("DeleteAsset error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestUploadAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/repos/inful/db-binaries/releases/7/assets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("name"); got != "checksums.txt" {
			t.Errorf("name = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "text/plain" {
			t.Errorf("content-type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "abc  file\n" {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(githubAsset{ID: 99, Name: "checksums.txt", Size: int64(len(body))})
	}))
	defer server.Close()

	client := newTestClient(t, server, "t")
	content := "abc  file\n"
	asset, err := client.UploadAsset(context.Background(), 7, "checksums.txt", "text/plain", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("UploadAsset: %v", err)
	}
	if asset.ID != 99 || asset.Name != "checksums.txt" {
		t.Errorf("created asset = %+v", asset)
	}
}

func TestUploadAsset_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"already_exists"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, "t")
	_, err := client.UploadAsset(context.Background(), 7, "checksums.txt", "", strings.NewReader("x"), 1)
	if err == nil {
		t.Fatal("expected error on 422")
	}
}
