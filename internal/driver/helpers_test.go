package driver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
)

var linuxTarget = platform.Target{OS: "linux", Arch: "amd64"}

// driverBinary returns a fake driver of version with one detection block.
func driverBinary(version string) []byte {
	return []byte("\x7fELF\x00\x01header\x00" + cdcSnippet + "\x00platform_handle\x00content\x00" + version + "\x00tail")
}

// fakeRepo serves the version feeds and driver archives for linux64.
type fakeRepo struct {
	server *httptest.Server

	mu         sync.Mutex
	stable     string
	milestones map[string]string
	legacy     map[string]string
	archives   map[string][]byte

	feedDown  atomic.Bool
	delay     time.Duration
	requests  atomic.Int32
	downloads atomic.Int32
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	r := &fakeRepo{
		milestones: map[string]string{},
		legacy:     map[string]string{},
		archives:   map[string][]byte{},
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRepo) endpoints() Endpoints {
	return Endpoints{
		Feed:      r.server.URL + "/feed",
		Legacy:    r.server.URL + "/legacy",
		Downloads: r.server.URL + "/dl",
	}
}

// publish makes version downloadable with the given archive contents.
func (r *fakeRepo) publish(t *testing.T, version string) {
	t.Helper()
	v := MustParseVersion(version)

	r.mu.Lock()
	defer r.mu.Unlock()
	if v.IsLegacy() {
		r.archives[fmt.Sprintf("/legacy/%s/chromedriver_linux64.zip", version)] = buildZip(t, map[string][]byte{
			"chromedriver": driverBinary(version),
		})
		return
	}
	r.archives[fmt.Sprintf("/dl/%s/linux64/chromedriver-linux64.zip", version)] = buildZip(t, map[string][]byte{
		"chromedriver-linux64/LICENSE.chromedriver": []byte("license"),
		"chromedriver-linux64/chromedriver":         driverBinary(version),
	})
}

// publishArchive serves raw archive bytes for version.
func (r *fakeRepo) publishArchive(version string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[fmt.Sprintf("/dl/%s/linux64/chromedriver-linux64.zip", version)] = data
}

func (r *fakeRepo) serve(w http.ResponseWriter, req *http.Request) {
	r.requests.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	path := req.URL.Path
	switch {
	case strings.HasPrefix(path, "/feed/"):
		if r.feedDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		r.serveFeed(w, strings.TrimPrefix(path, "/feed/"))
	case strings.HasPrefix(path, "/legacy/LATEST_RELEASE_"):
		v, ok := r.legacy[strings.TrimPrefix(path, "/legacy/LATEST_RELEASE_")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, v)
	default:
		data, ok := r.archives[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		r.downloads.Add(1)
		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		w.Write(data)
	}
}

func (r *fakeRepo) serveFeed(w http.ResponseWriter, file string) {
	var doc any
	switch file {
	case stableFeedFile:
		doc = map[string]any{
			"channels": map[string]any{"Stable": map[string]string{"channel": "Stable", "version": r.stable}},
		}
	case milestoneFeedFile:
		ms := map[string]any{}
		for major, v := range r.milestones {
			ms[major] = map[string]string{"milestone": major, "version": v}
		}
		doc = map[string]any{"milestones": ms}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(doc)
}
