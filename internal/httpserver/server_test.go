package httpserver

import (
	"bytes"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filedrop/internal/config"
	"filedrop/internal/dropdir"
	"filedrop/internal/endpoint"
	"filedrop/internal/pages"
)

type fakeSource []endpoint.Interface

func (f fakeSource) Interfaces() ([]endpoint.Interface, error) { return f, nil }

func testEndpoints(t *testing.T) []endpoint.Endpoint {
	t.Helper()
	lan := &net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)}
	lo := &net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}
	eps, err := endpoint.Discover(fakeSource{
		{Name: "wlan0", Flags: net.FlagUp | net.FlagRunning, Addrs: []net.Addr{lan}},
		{Name: "lo", Flags: net.FlagUp | net.FlagRunning | net.FlagLoopback, Addrs: []net.Addr{lo}},
	}, endpoint.Options{Port: 8000, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	return eps
}

type fixture struct {
	dir     *dropdir.Dir
	handler http.Handler
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = filepath.Join(t.TempDir(), "drop")
	if mutate != nil {
		mutate(&cfg)
	}
	dir, err := dropdir.Open(cfg.Dir)
	if err != nil {
		t.Fatal(err)
	}
	src, err := pages.Embedded()
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	srv, err := New(Options{
		Config:    cfg,
		Dir:       dir,
		Endpoints: testEndpoints(t),
		Pages:     src,
		Logger:    log.New(&logs, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{dir: dir, handler: srv.Handler(), logs: &logs}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

type filePart struct {
	field, name, body string
}

func uploadRequest(t *testing.T, parts ...filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		var w io.Writer
		var err error
		if p.name == "-" {
			w, err = mw.CreateFormField(p.field)
		} else {
			w, err = mw.CreateFormFile(p.field, p.name)
		}
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(w, p.body)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) snapshot(t *testing.T) []dropdir.Entry {
	t.Helper()
	files, err := f.dir.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestIndexEmpty(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{"<li>No files</li>", `href="http://192.168.1.20:8000"`, "<svg"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "127.0.0.1") {
		t.Error("loopback endpoint on the page")
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("no request id")
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("cache-control = %q", rr.Header().Get("Cache-Control"))
	}
}

func TestUploadThenList(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(uploadRequest(t, filePart{"file", "a.txt", "hello"}))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("upload = %d %q", rr.Code, rr.Header().Get("Location"))
	}
	files := f.snapshot(t)
	if len(files) != 1 || files[0].Name != "a.txt" || files[0].SizeLabel != "5 B" {
		t.Fatalf("snapshot = %+v", files)
	}
	if !strings.Contains(f.logs.String(), "Uploaded ") {
		t.Errorf("upload not logged: %s", f.logs.String())
	}

	body := f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	if !strings.Contains(body, `<a href="/files/a.txt">a.txt</a><small>5 B</small>`) {
		t.Errorf("listing missing file row:\n%s", body)
	}

	rr = f.do(httptest.NewRequest(http.MethodGet, "/files/a.txt", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "hello" {
		t.Errorf("download = %d %q", rr.Code, rr.Body.String())
	}
}

func TestUploadEveryFilePart(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(uploadRequest(t,
		filePart{"note", "-", "ignored field"},
		filePart{"file", "one.txt", "1"},
		filePart{"other", "skip.txt", "nope"},
		filePart{"file", "two.txt", "22"},
	))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	files := f.snapshot(t)
	if len(files) != 2 || files[0].Name != "one.txt" || files[1].Name != "two.txt" {
		t.Errorf("snapshot = %+v", files)
	}
}

func TestUploadEmptyFileName(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(uploadRequest(t, filePart{"file", "", "data"}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if files := f.snapshot(t); len(files) != 0 {
		t.Errorf("snapshot = %+v", files)
	}
}

func TestUploadMalformed(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(uploadRequest(t, filePart{"other", "x.txt", "x"}))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("no file part: status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := f.do(req); rr.Code != http.StatusBadRequest {
		t.Errorf("not multipart: status = %d", rr.Code)
	}

	rr = f.do(uploadRequest(t, filePart{"file", `..\evil.txt`, "x"}))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("backslash name: status = %d", rr.Code)
	}
	if files := f.snapshot(t); len(files) != 0 {
		t.Errorf("snapshot = %+v", files)
	}
}

func TestUploadFailureKeepsNothing(t *testing.T) {
	f := newFixture(t, nil)
	if rr := f.do(uploadRequest(t, filePart{"file", "old.txt", "before"})); rr.Code != http.StatusSeeOther {
		t.Fatalf("seed upload: status = %d", rr.Code)
	}

	rr := f.do(uploadRequest(t,
		filePart{"file", "ok.txt", "1"},
		filePart{"file", `bad\name`, "2"},
	))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	files := f.snapshot(t)
	if len(files) != 1 || files[0].Name != "old.txt" {
		t.Errorf("snapshot = %+v, want only the earlier upload", files)
	}
	if strings.Contains(f.logs.String(), "Uploaded "+filepath.Join(f.dir.Path(), "ok.txt")) {
		t.Error("discarded file logged as uploaded")
	}
}

func TestUploadCannotEscapeDirectory(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(uploadRequest(t, filePart{"file", "../evil.txt", "x"}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(f.dir.Path()), "evil.txt")); !os.IsNotExist(err) {
		t.Errorf("file written outside the drop directory: %v", err)
	}
	if files := f.snapshot(t); len(files) != 1 || files[0].Name != "evil.txt" {
		t.Errorf("snapshot = %+v", files)
	}
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MaxUploadBytes = 1024 })
	rr := f.do(uploadRequest(t, filePart{"file", "big.bin", strings.Repeat("x", 4096)}))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rr.Code)
	}
	if files := f.snapshot(t); len(files) != 0 {
		t.Errorf("partial upload left behind: %+v", files)
	}
}

func TestIndexDirectoryUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	if err := os.Remove(f.dir.Path()); err != nil {
		t.Fatal(err)
	}
	rr := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestQR(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/qr/0.svg", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "<?xml") {
		t.Errorf("body = %.40q", rr.Body.String())
	}
	// Only one reachable endpoint; the loopback one is not addressable.
	for _, p := range []string{"/qr/1.svg", "/qr/x.svg", "/qr/-1.svg"} {
		if rr := f.do(httptest.NewRequest(http.MethodGet, p, nil)); rr.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", p, rr.Code)
		}
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc123")
	rr := f.do(req)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-Id") != "abc123" {
		t.Errorf("request id = %q", rr.Header().Get("X-Request-Id"))
	}
	if !strings.Contains(f.logs.String(), "GET /healthz 200") || !strings.Contains(f.logs.String(), "rid=abc123") {
		t.Errorf("request not logged: %s", f.logs.String())
	}
}

func TestMinifiedIndex(t *testing.T) {
	plain := newFixture(t, nil)
	small := newFixture(t, func(c *config.Config) { c.Minify = true })
	for _, f := range []*fixture{plain, small} {
		if _, err := f.dir.Ingest("a.txt", strings.NewReader("hello")); err != nil {
			t.Fatal(err)
		}
	}
	a := plain.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	b := small.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	if len(b) >= len(a) {
		t.Errorf("minified page is not smaller: %d >= %d", len(b), len(a))
	}
	if !strings.Contains(b, "a.txt") || !strings.Contains(b, "5 B") {
		t.Error("minified page lost the file row")
	}
}

func TestWebDAV(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.WebDAV = true })
	if _, err := f.dir.Ingest("a.txt", strings.NewReader("hello")); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("PROPFIND", "/dav/", nil)
	req.Header.Set("Depth", "1")
	rr := f.do(req)
	if rr.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "a.txt") {
		t.Errorf("listing missing a.txt: %s", rr.Body.String())
	}

	// Without the option the path is not served.
	plain := newFixture(t, nil)
	if rr := plain.do(httptest.NewRequest(http.MethodGet, "/dav/a.txt", nil)); rr.Code != http.StatusNotFound {
		t.Errorf("dav without option: status = %d", rr.Code)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without a directory succeeded")
	}
	dir, err := dropdir.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{Dir: dir}); err == nil {
		t.Error("New without templates succeeded")
	}
}
