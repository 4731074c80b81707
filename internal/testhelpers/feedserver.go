// Package testhelpers provides a fake NDW file server and service wiring for
// handler and integration tests.
package testhelpers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kjstillabower/ndw-feed-service/internal/cache"
	"github.com/kjstillabower/ndw-feed-service/internal/client"
	"github.com/kjstillabower/ndw-feed-service/internal/service"
)

// IncidentsXML is a one-situation DATEX II v2 incidents feed inside the default region.
const IncidentsXML = `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
 <SOAP-ENV:Body><d2LogicalModel xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"><payloadPublication>
  <situation id="RWS03_100">
   <overallSeverity>high</overallSeverity>
   <situationRecord xsi:type="Accident" id="RWS03_100_1">
    <groupOfLocations><locationForDisplay><latitude>52.5</latitude><longitude>6.1</longitude></locationForDisplay></groupOfLocations>
   </situationRecord>
  </situation>
 </payloadPublication></d2LogicalModel></SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

// DripsXML is a one-gantry VMS table on the A28 left carriageway at km 87.4.
const DripsXML = `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
 <SOAP-ENV:Body><d2LogicalModel><payloadPublication><vmsUnitTable>
  <vmsUnitRecord id="DRIP_A28_87">
   <vmsRecord vmsIndex="1"><vmsRecord>
    <vmsDescription><values><value lang="nl">A28 Li 87,400</value></values></vmsDescription>
    <vmsLocation><locationForDisplay><latitude>52.52</latitude><longitude>6.09</longitude></locationForDisplay></vmsLocation>
   </vmsRecord></vmsRecord>
  </vmsUnitRecord>
 </vmsUnitTable></payloadPublication></d2LogicalModel></SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

// MSIXML closes lane 1 of the DripsXML gantry.
const MSIXML = `<msi_state>
 <event type="location"><sign_id><uuid>sign-1</uuid></sign_id>
  <lanelocation><road>A28</road><carriageway>L</carriageway><lane>1</lane><km>87.3</km></lanelocation></event>
 <event type="state"><sign_id><uuid>sign-1</uuid></sign_id><display><lane_closed/></display></event>
</msi_state>`

// FeedServer is an httptest server that serves NDW files by name.
type FeedServer struct {
	*httptest.Server

	mu      sync.Mutex
	files   map[string][]byte
	status  map[string]int
	hits    map[string]int
	gzipped bool
}

// NewFeedServer starts a FeedServer serving files and registers its shutdown
// with t.Cleanup. Unknown files answer 404.
func NewFeedServer(t *testing.T, files map[string]string) *FeedServer {
	t.Helper()
	fs := &FeedServer{
		files:  make(map[string][]byte, len(files)),
		status: make(map[string]int),
		hits:   make(map[string]int),
	}
	for name, body := range files {
		fs.files[name] = []byte(body)
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.Close)
	return fs
}

// Gzip makes the server compress every body.
func (fs *FeedServer) Gzip(on bool) {
	fs.mu.Lock()
	fs.gzipped = on
	fs.mu.Unlock()
}

// FailWith makes file answer with status until cleared with 0.
func (fs *FeedServer) FailWith(file string, status int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if status == 0 {
		delete(fs.status, file)
		return
	}
	fs.status[file] = status
}

// Hits returns how many times file was requested.
func (fs *FeedServer) Hits(file string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[file]
}

func (fs *FeedServer) serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")

	fs.mu.Lock()
	fs.hits[name]++
	status := fs.status[name]
	body, ok := fs.files[name]
	gzipped := fs.gzipped
	fs.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if gzipped {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write(body)
		_ = zw.Close()
		body = buf.Bytes()
	}
	_, _ = w.Write(body)
}

// DefaultFiles returns fixtures for incidents, drips and msi keyed by upstream file name.
func DefaultFiles() map[string]string {
	return map[string]string{
		service.FileIncidents: IncidentsXML,
		service.FileDRIPS:     DripsXML,
		service.FileMSI:       MSIXML,
	}
}

// NewService wires a FeedService to fs with an in-memory cache.
func NewService(t *testing.T, fs *FeedServer) (*service.FeedService, *client.NDWClient, *cache.InMemoryCache) {
	t.Helper()
	c, err := client.NewNDWClient(fs.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewNDWClient() error = %v", err)
	}
	dc := cache.NewInMemoryCache()
	svc := service.NewFeedService(c, dc, service.NewRegistry(service.DefaultDatasets(), nil), service.Options{CoalesceTimeout: 5 * time.Second})
	return svc, c, dc
}
