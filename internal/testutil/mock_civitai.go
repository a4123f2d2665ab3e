// Package testutil provides an in-process fake of the Civitai API and its
// image CDN for package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Item is one image listed by a fake page. ID may be a number or a string.
type Item struct {
	ID   interface{}
	URL  string
	Hash string
}

// Fault is a scripted failure served instead of a normal response.
type Fault struct {
	Status     int
	RetryAfter string
	// Truncate sends headers announcing the full body and then only half of it.
	Truncate bool
	// Hang blocks until the client gives up.
	Hang bool
	// Body replaces the response body, used for malformed JSON pages.
	Body string
}

type page struct {
	items  []Item
	next   interface{}
	faults []Fault
	calls  int
}

type image struct {
	data   []byte
	faults []Fault
	delay  time.Duration
	calls  int
	// gate, when set, is waited on before the body is written
	gate chan struct{}
}

// MockCivitaiServer serves /api/v1/images pages keyed by cursor and
// /images/<name> bodies. Faults are consumed in order, one per request.
type MockCivitaiServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	pages     map[string]*page
	images    map[string]*image
	pageCalls int
	authSeen  []string
	queries   []string
	inFlight  int
	maxFlight int
}

// NewMockCivitaiServer starts a server that is closed when t finishes.
func NewMockCivitaiServer(t testing.TB) *MockCivitaiServer {
	m := &MockCivitaiServer{
		pages:  make(map[string]*page),
		images: make(map[string]*image),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/images", m.handlePage)
	mux.HandleFunc("/images/", m.handleImage)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Server.Close)
	return m
}

// URL is the base URL to configure the client with.
func (m *MockCivitaiServer) URL() string {
	return m.Server.URL
}

// ImageURL returns the CDN URL for name, e.g. "101.jpeg".
func (m *MockCivitaiServer) ImageURL(name string) string {
	return m.Server.URL + "/images/" + name
}

// AddPage registers the page served for cursor ("" is the first page).
// next is the nextCursor value; nil or 0 ends pagination.
func (m *MockCivitaiServer) AddPage(cursor string, next interface{}, items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[cursor]
	if !ok {
		p = &page{}
		m.pages[cursor] = p
	}
	p.items = items
	p.next = next
}

// FailPage makes the next requests for cursor fail with faults, in order.
func (m *MockCivitaiServer) FailPage(cursor string, faults ...Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[cursor]
	if !ok {
		p = &page{}
		m.pages[cursor] = p
	}
	p.faults = append(p.faults, faults...)
}

// AddImage registers an image body and returns its URL.
func (m *MockCivitaiServer) AddImage(name string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageLocked(name).data = data
	return m.ImageURL(name)
}

// FailImage makes the next requests for name fail with faults, in order.
func (m *MockCivitaiServer) FailImage(name string, faults ...Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img := m.imageLocked(name)
	img.faults = append(img.faults, faults...)
}

// DelayImage slows every response for name.
func (m *MockCivitaiServer) DelayImage(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageLocked(name).delay = d
}

// GateImage holds responses for name until the returned function is called.
func (m *MockCivitaiServer) GateImage(name string) (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.imageLocked(name).gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (m *MockCivitaiServer) imageLocked(name string) *image {
	img, ok := m.images[name]
	if !ok {
		img = &image{}
		m.images[name] = img
	}
	return img
}

// PageCalls is the number of listing requests served.
func (m *MockCivitaiServer) PageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageCalls
}

// ImageCalls is the number of requests for name.
func (m *MockCivitaiServer) ImageCalls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img, ok := m.images[name]; ok {
		return img.calls
	}
	return 0
}

// MaxConcurrentImages is the peak number of image requests in flight.
func (m *MockCivitaiServer) MaxConcurrentImages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxFlight
}

// AuthHeaders returns the Authorization header of every request, in order.
func (m *MockCivitaiServer) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authSeen...)
}

// Queries returns the raw query string of every listing request.
func (m *MockCivitaiServer) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func (m *MockCivitaiServer) handlePage(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")

	m.mu.Lock()
	m.pageCalls++
	m.authSeen = append(m.authSeen, r.Header.Get("Authorization"))
	m.queries = append(m.queries, r.URL.RawQuery)
	p, ok := m.pages[cursor]
	var fault *Fault
	var listed []Item
	var next interface{}
	if ok {
		listed, next = p.items, p.next
		p.calls++
		if len(p.faults) > 0 {
			f := p.faults[0]
			p.faults = p.faults[1:]
			fault = &f
		}
	}
	m.mu.Unlock()

	if !ok {
		http.Error(w, fmt.Sprintf("unknown cursor %q", cursor), http.StatusBadRequest)
		return
	}
	if fault != nil {
		serveFault(w, r, *fault, nil)
		return
	}

	items := make([]map[string]interface{}, 0, len(listed))
	for _, it := range listed {
		entry := map[string]interface{}{
			"id":        it.ID,
			"url":       it.URL,
			"width":     512,
			"height":    768,
			"nsfwLevel": "None",
			"createdAt": "2024-03-01T12:00:00.000Z",
			"postId":    1234,
			"username":  r.URL.Query().Get("username"),
			"meta":      map[string]interface{}{"prompt": "a lighthouse"},
		}
		if it.Hash != "" {
			entry["hash"] = it.Hash
		}
		items = append(items, entry)
	}
	body := map[string]interface{}{
		"items":    items,
		"metadata": map[string]interface{}{"nextCursor": next},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (m *MockCivitaiServer) handleImage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/images/")

	m.mu.Lock()
	m.authSeen = append(m.authSeen, r.Header.Get("Authorization"))
	img, ok := m.images[name]
	var fault *Fault
	var gate chan struct{}
	var delay time.Duration
	var data []byte
	if ok {
		data = img.data
		img.calls++
		if len(img.faults) > 0 {
			f := img.faults[0]
			img.faults = img.faults[1:]
			fault = &f
		}
		gate = img.gate
		delay = img.delay
	}
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if fault != nil {
		serveFault(w, r, *fault, data)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	_, _ = w.Write(data)
}

func serveFault(w http.ResponseWriter, r *http.Request, f Fault, data []byte) {
	switch {
	case f.Hang:
		<-r.Context().Done()
	case f.Truncate:
		if len(data) < 2 {
			data = []byte("truncated-body")
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:len(data)/2])
	case f.Body != "":
		status := f.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.Body))
	default:
		if f.RetryAfter != "" {
			w.Header().Set("Retry-After", f.RetryAfter)
		}
		http.Error(w, http.StatusText(f.Status), f.Status)
	}
}
