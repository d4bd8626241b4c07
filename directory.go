package orthanc

import "context"

// ResourceKind identifies the hierarchy level of a resource reported by the
// server in a bulk operation response.
type ResourceKind string

const (
	ResourcePatient  ResourceKind = "Patient"
	ResourceStudy    ResourceKind = "Study"
	ResourceSeries   ResourceKind = "Series"
	ResourceInstance ResourceKind = "Instance"
)

// ModifyRequest describes a bulk tag modification.
//
// Replace forces tag values, Remove strips tags, Keep names tags that must
// survive an otherwise destructive transform. Force must be set to allow
// edits the server considers dangerous, like changing patient identity.
// KeepSource controls whether the pre-modification resources remain on the
// server.
type ModifyRequest struct {
	Replace    map[string]string
	Remove     []string
	Keep       []string
	KeepSource bool
	Force      bool
}

// ModifiedResource is one entry of a bulk modification response.
type ModifiedResource struct {
	Kind ResourceKind `json:"Type"`
	ID   string       `json:"ID"`
}

// BulkModifyResult is the server's answer to a bulk modification: the full
// list of resources (patients, studies, series, instances) the modification
// produced.
type BulkModifyResult struct {
	Resources []ModifiedResource `json:"Resources"`
}

// ResourceDirectory is the capability the InstancesSet needs from the server:
// resolving identifiers to resources, listing children, and running bulk
// operations. The rest.Client implements it.
type ResourceDirectory interface {

	// Resolves a study identifier. Fails with ENOTFOUND if unknown.
	GetStudy(ctx context.Context, studyID string) (*Study, error)

	// Resolves a series identifier. Fails with ENOTFOUND if unknown.
	GetSeries(ctx context.Context, seriesID string) (*Series, error)

	// Resolves an instance identifier. Fails with ENOTFOUND if unknown.
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)

	// Returns the ordered instance identifiers of a series.
	GetSeriesInstanceIDs(ctx context.Context, seriesID string) ([]string, error)

	// Deletes every named resource in one request.
	BulkDelete(ctx context.Context, resourceIDs []string) error

	// Modifies every named resource in one request, at instance granularity.
	BulkModify(ctx context.Context, resourceIDs []string, req ModifyRequest) (*BulkModifyResult, error)
}
