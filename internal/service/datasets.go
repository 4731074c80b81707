package service

import (
	"sort"
	"time"
)

// Kind selects how a dataset's upstream files are turned into features.
type Kind string

const (
	KindSituations   Kind = "situations"
	KindEmission     Kind = "emissiezones"
	KindVMS          Kind = "drips"
	KindMSI          Kind = "msi"
	KindTruckParking Kind = "truckparking"
	KindTrafficSpeed Kind = "trafficspeed"
)

// Upstream file names, relative to the NDW base URL.
const (
	FileIncidents     = "incidents.xml.gz"
	FileActueelBeeld  = "actueel_beeld.xml.gz"
	FileSRTI          = "srti.xml.gz"
	FileBrugopeningen = "brugopeningen.xml.gz"
	FileMaxSnelheden  = "tijdelijke_verkeersmaatregelen_maximum_snelheden.xml.gz"
	FileEmissiezones  = "emissiezones.xml.gz"
	FileDRIPS         = "LocatietabelDRIPS.xml.gz"
	FileMSI           = "Matrixsignaalinformatie.xml.gz"
	FileParkingTable  = "Truckparking_Parking_Table.xml"
	FileParkingStatus = "Truckparking_Parking_Status.xml"
	FileMeasurement   = "measurement.xml.gz"
	FileTrafficSpeed  = "trafficspeed.xml.gz"
)

// DefaultTTL applies to datasets without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// Dataset describes one served dataset: its upstream files and freshness.
// Paired kinds list their files in join order (table first).
type Dataset struct {
	Name  string        `json:"name"`
	Kind  Kind          `json:"kind"`
	Files []string      `json:"-"`
	TTL   time.Duration `json:"-"`
}

// DefaultDatasets returns the built-in catalog.
func DefaultDatasets() []Dataset {
	return []Dataset{
		{Name: "incidents", Kind: KindSituations, Files: []string{FileIncidents}, TTL: time.Minute},
		{Name: "actueel", Kind: KindSituations, Files: []string{FileActueelBeeld}, TTL: time.Minute},
		{Name: "srti", Kind: KindSituations, Files: []string{FileSRTI}, TTL: time.Minute},
		{Name: "brugopeningen", Kind: KindSituations, Files: []string{FileBrugopeningen}, TTL: time.Minute},
		{Name: "maxsnelheden", Kind: KindSituations, Files: []string{FileMaxSnelheden}, TTL: 5 * time.Minute},
		{Name: "emissiezones", Kind: KindEmission, Files: []string{FileEmissiezones}, TTL: time.Hour},
		{Name: "drips", Kind: KindVMS, Files: []string{FileDRIPS}, TTL: time.Hour},
		{Name: "msi", Kind: KindMSI, Files: []string{FileDRIPS, FileMSI}, TTL: time.Minute},
		{Name: "truckparking", Kind: KindTruckParking, Files: []string{FileParkingTable, FileParkingStatus}, TTL: 2 * time.Minute},
		{Name: "trafficspeed", Kind: KindTrafficSpeed, Files: []string{FileMeasurement, FileTrafficSpeed}, TTL: time.Minute},
	}
}

// Registry is the immutable set of datasets the service serves.
type Registry struct {
	byName map[string]Dataset
	names  []string
}

// NewRegistry builds a registry from datasets, applying ttlOverrides by name.
// Overrides for unknown names are ignored; non-positive TTLs fall back to DefaultTTL.
func NewRegistry(datasets []Dataset, ttlOverrides map[string]time.Duration) *Registry {
	r := &Registry{byName: make(map[string]Dataset, len(datasets))}
	for _, d := range datasets {
		if ttl, ok := ttlOverrides[d.Name]; ok {
			d.TTL = ttl
		}
		if d.TTL <= 0 {
			d.TTL = DefaultTTL
		}
		d.Files = append([]string(nil), d.Files...)
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r
}

// Lookup returns the dataset called name.
func (r *Registry) Lookup(name string) (Dataset, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the dataset names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// All returns every dataset sorted by name.
func (r *Registry) All() []Dataset {
	out := make([]Dataset, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}
