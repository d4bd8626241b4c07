// Package orthanc provides the domain types and core logic for talking to an
// Orthanc DICOM server through its REST API. The HTTP implementation lives in
// the rest subpackage; this package only knows about resources, identifiers
// and the capability interfaces the core operates on.
package orthanc

// Tags is a set of simplified DICOM tags, keyed by tag name.
type Tags map[string]string

// Get returns the value of the named tag, or "" if the tag is absent.
func (t Tags) Get(name string) string {
	return t[name]
}

// Has reports whether the named tag is present.
func (t Tags) Has(name string) bool {
	_, ok := t[name]
	return ok
}

// Study represents an Orthanc study resource.
// One study holds one or more series.
type Study struct {
	ID                   string   `json:"ID"`
	ParentPatientID      string   `json:"ParentPatient"`
	SeriesIDs            []string `json:"Series"`
	MainDicomTags        Tags     `json:"MainDicomTags"`
	PatientMainDicomTags Tags     `json:"PatientMainDicomTags"`
}

// Series represents an Orthanc series resource.
// One series holds one or more instances.
type Series struct {
	ID            string   `json:"ID"`
	ParentStudyID string   `json:"ParentStudy"`
	InstanceIDs   []string `json:"Instances"`
	MainDicomTags Tags     `json:"MainDicomTags"`
}

// Instance represents a single Orthanc instance resource (one DICOM file).
type Instance struct {
	ID             string `json:"ID"`
	ParentSeriesID string `json:"ParentSeries"`
	MainDicomTags  Tags   `json:"MainDicomTags"`
	FileSize       int64  `json:"FileSize"`
}

// DownloadedInstance links an instance identifier to the local path its DICOM
// file was written to.
type DownloadedInstance struct {
	InstanceID string
	Path       string
}
