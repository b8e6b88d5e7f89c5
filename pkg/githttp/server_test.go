package githttp

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"lunchbadger/configstore/pkg/events"
	"lunchbadger/configstore/pkg/store"
)

func newTestHandler(t *testing.T, opts Options) (*Handler, *store.Manager) {
	t.Helper()
	m, err := store.NewManager(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(m, events.NewBus(nil), slog.Default(), opts), m
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestInfoRefsServiceValidation(t *testing.T) {
	h, m := newTestHandler(t, Options{})
	if _, err := m.Create("acme"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		url      string
		wantCode int
		wantBody string
	}{
		{
			name:     "missing service is the dumb protocol",
			url:      "/acme.git/info/refs",
			wantCode: http.StatusBadRequest,
			wantBody: "dumb protocol not supported",
		},
		{
			name:     "unknown service",
			url:      "/acme.git/info/refs?service=git-evil-pack",
			wantCode: http.StatusBadRequest,
			wantBody: "unknown service",
		},
		{
			name:     "unknown repository",
			url:      "/ghost.git/info/refs?service=git-upload-pack",
			wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want substring %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServiceContentTypeRequired(t *testing.T) {
	h, m := newTestHandler(t, Options{})
	if _, err := m.Create("acme"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/acme.git/git-receive-pack", strings.NewReader(""))
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	h, m := newTestHandler(t, Options{})
	repo, err := m.Create("acme")
	if err != nil {
		t.Fatal(err)
	}
	key, err := repo.AccessKey()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		user, pass string
		useAuth    bool
		wantCode   int
		needsGit   bool
	}{
		{
			name:       "public caller without credentials",
			remoteAddr: "203.0.113.7:1234",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "wrong password",
			remoteAddr: "203.0.113.7:1234",
			useAuth:    true,
			user:       "git",
			pass:       "wrong",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "wrong username",
			remoteAddr: "203.0.113.7:1234",
			useAuth:    true,
			user:       "admin",
			pass:       key,
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "correct credentials",
			remoteAddr: "203.0.113.7:1234",
			useAuth:    true,
			user:       "git",
			pass:       key,
			wantCode:   http.StatusOK,
			needsGit:   true,
		},
		{
			name:       "private caller bypasses credentials",
			remoteAddr: "10.0.0.5:9000",
			wantCode:   http.StatusOK,
			needsGit:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.needsGit {
				requireGit(t)
			}
			req := httptest.NewRequest(http.MethodGet, "/acme.git/info/refs?service=git-upload-pack", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.useAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Code == http.StatusUnauthorized {
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("401 without WWW-Authenticate header")
				}
			}
		})
	}
}

func TestAuthOnPrivateNetworksFlag(t *testing.T) {
	h, m := newTestHandler(t, Options{AuthOnPrivateNetworks: true})
	if _, err := m.Create("acme"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/acme.git/info/refs?service=git-upload-pack", nil)
	req.RemoteAddr = "10.0.0.5:9000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when the flag requires credentials on private networks", rec.Code)
	}
}

func TestInfoRefsAdvertisement(t *testing.T) {
	requireGit(t)
	h, m := newTestHandler(t, Options{})
	if _, err := m.Create("acme"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/acme.git/info/refs?service=git-upload-pack", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-git-upload-pack-advertisement" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Errorf("Cache-Control = %q", cc)
	}
	body, _ := io.ReadAll(rec.Body)
	want := pktLine("# service=git-upload-pack\n") + flushPkt
	if !strings.HasPrefix(string(body), want) {
		t.Errorf("advertisement does not start with service header: %q", body[:min(len(body), 64)])
	}
}

func TestHelperArgs(t *testing.T) {
	h := &Handler{gitBinary: "git"}
	got := h.helperArgs(serviceUploadPack, "/tmp/r.git", true)
	want := "upload-pack --stateless-rpc --advertise-refs /tmp/r.git"
	if strings.Join(got, " ") != want {
		t.Errorf("helperArgs = %q, want %q", strings.Join(got, " "), want)
	}
	got = h.helperArgs(serviceReceivePack, "/tmp/r.git", false)
	want = "receive-pack --stateless-rpc /tmp/r.git"
	if strings.Join(got, " ") != want {
		t.Errorf("helperArgs = %q, want %q", strings.Join(got, " "), want)
	}
}
