package orthanc_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// fakeDirectory implements orthanc.ResourceDirectory in memory.
type fakeDirectory struct {
	studies           map[string]*orthanc.Study
	series            map[string]*orthanc.Series
	instances         map[string]*orthanc.Instance
	seriesInstanceIDs map[string][]string

	bulkDeletes   [][]string
	bulkDeleteErr error

	modifyResult  *orthanc.BulkModifyResult
	modifyErr     error
	lastModifyIDs []string
	lastModifyReq orthanc.ModifyRequest
}

func (d *fakeDirectory) GetStudy(_ context.Context, studyID string) (*orthanc.Study, error) {
	if study, ok := d.studies[studyID]; ok {
		return study, nil
	}
	return nil, orthanc.Errorf(orthanc.ENOTFOUND, "unknown study %s", studyID)
}

func (d *fakeDirectory) GetSeries(_ context.Context, seriesID string) (*orthanc.Series, error) {
	if series, ok := d.series[seriesID]; ok {
		return series, nil
	}
	return nil, orthanc.Errorf(orthanc.ENOTFOUND, "unknown series %s", seriesID)
}

func (d *fakeDirectory) GetInstance(_ context.Context, instanceID string) (*orthanc.Instance, error) {
	if instance, ok := d.instances[instanceID]; ok {
		return instance, nil
	}
	return nil, orthanc.Errorf(orthanc.ENOTFOUND, "unknown instance %s", instanceID)
}

func (d *fakeDirectory) GetSeriesInstanceIDs(_ context.Context, seriesID string) ([]string, error) {
	if ids, ok := d.seriesInstanceIDs[seriesID]; ok {
		return ids, nil
	}
	return nil, orthanc.Errorf(orthanc.ENOTFOUND, "unknown series %s", seriesID)
}

func (d *fakeDirectory) BulkDelete(_ context.Context, resourceIDs []string) error {
	if d.bulkDeleteErr != nil {
		return d.bulkDeleteErr
	}
	d.bulkDeletes = append(d.bulkDeletes, resourceIDs)
	return nil
}

func (d *fakeDirectory) BulkModify(_ context.Context, resourceIDs []string, req orthanc.ModifyRequest) (*orthanc.BulkModifyResult, error) {
	d.lastModifyIDs = resourceIDs
	d.lastModifyReq = req
	if d.modifyErr != nil {
		return nil, d.modifyErr
	}
	return d.modifyResult, nil
}

// newFakeDirectory returns a directory holding study-1 with two series:
// series-a [i1 i2] and series-b [i3].
func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		studies: map[string]*orthanc.Study{
			"study-1": {
				ID:              "study-1",
				ParentPatientID: "patient-1",
				SeriesIDs:       []string{"series-a", "series-b"},
			},
		},
		series: map[string]*orthanc.Series{
			"series-a": {ID: "series-a", ParentStudyID: "study-1", InstanceIDs: []string{"i1", "i2"}},
			"series-b": {ID: "series-b", ParentStudyID: "study-1", InstanceIDs: []string{"i3"}},
		},
		instances: map[string]*orthanc.Instance{
			"i1": {ID: "i1", ParentSeriesID: "series-a"},
			"i2": {ID: "i2", ParentSeriesID: "series-a"},
			"i3": {ID: "i3", ParentSeriesID: "series-b"},
		},
		seriesInstanceIDs: map[string][]string{
			"series-a": {"i1", "i2"},
			"series-b": {"i3"},
		},
	}
}

func mustSetFromStudy(t *testing.T, dir *fakeDirectory) *orthanc.InstancesSet {
	t.Helper()
	set, err := orthanc.NewInstancesSetFromStudyID(context.Background(), dir, "study-1")
	if err != nil {
		t.Fatalf("NewInstancesSetFromStudyID() error = %v", err)
	}
	return set
}

func TestNewInstancesSetFromStudyID(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())

	if got, want := set.StudyID(), "study-1"; got != want {
		t.Errorf("StudyID() = %q, want %q", got, want)
	}
	if got, want := set.SeriesIDs(), []string{"series-a", "series-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SeriesIDs() = %v, want %v", got, want)
	}
	if got, want := set.InstanceIDs(), []string{"i1", "i2", "i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("InstanceIDs() = %v, want %v", got, want)
	}

	// The flattened list always matches the per-series lists.
	total := 0
	for _, seriesID := range set.SeriesIDs() {
		total += len(set.InstanceIDsForSeries(seriesID))
	}
	if total != len(set.InstanceIDs()) {
		t.Errorf("per-series instance count = %d, flattened count = %d", total, len(set.InstanceIDs()))
	}
}

func TestNewInstancesSetFromStudyIDNotFound(t *testing.T) {
	_, err := orthanc.NewInstancesSetFromStudyID(context.Background(), newFakeDirectory(), "no-such-study")
	if !orthanc.IsNotFound(err) {
		t.Fatalf("NewInstancesSetFromStudyID() error = %v, want not found", err)
	}
}

func TestNewInstancesSetFromSeriesID(t *testing.T) {
	set, err := orthanc.NewInstancesSetFromSeriesID(context.Background(), newFakeDirectory(), "series-a")
	if err != nil {
		t.Fatalf("NewInstancesSetFromSeriesID() error = %v", err)
	}

	if got, want := set.StudyID(), "study-1"; got != want {
		t.Errorf("StudyID() = %q, want %q", got, want)
	}
	if got, want := set.InstanceIDs(), []string{"i1", "i2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("InstanceIDs() = %v, want %v", got, want)
	}
}

func TestNewInstancesSetFromInstanceID(t *testing.T) {
	set, err := orthanc.NewInstancesSetFromInstanceID(context.Background(), newFakeDirectory(), "i3")
	if err != nil {
		t.Fatalf("NewInstancesSetFromInstanceID() error = %v", err)
	}

	if got, want := set.StudyID(), "study-1"; got != want {
		t.Errorf("StudyID() = %q, want %q", got, want)
	}
	if got, want := set.SeriesIDs(), []string{"series-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SeriesIDs() = %v, want %v", got, want)
	}
	if got, want := set.InstanceIDs(), []string{"i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("InstanceIDs() = %v, want %v", got, want)
	}
}

func TestInstanceIDsForSeriesUnknown(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())

	if got := set.InstanceIDsForSeries("no-such-series"); len(got) != 0 {
		t.Errorf("InstanceIDsForSeries(unknown) = %v, want empty", got)
	}
}

func TestSeriesSnapshotIsSubsetOfStudySnapshot(t *testing.T) {
	dir := newFakeDirectory()

	seriesSet, err := orthanc.NewInstancesSetFromSeriesID(context.Background(), dir, "series-a")
	if err != nil {
		t.Fatalf("NewInstancesSetFromSeriesID() error = %v", err)
	}
	studySet := mustSetFromStudy(t, dir)

	studySeries := make(map[string]bool)
	for _, seriesID := range studySet.SeriesIDs() {
		studySeries[seriesID] = true
	}
	for _, seriesID := range seriesSet.SeriesIDs() {
		if !studySeries[seriesID] {
			t.Errorf("series %s in series snapshot but not in study snapshot", seriesID)
		}
	}
}

func TestDelete(t *testing.T) {
	dir := newFakeDirectory()
	set := mustSetFromStudy(t, dir)

	if err := set.Delete(context.Background()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	want := [][]string{{"i1", "i2", "i3"}}
	if !reflect.DeepEqual(dir.bulkDeletes, want) {
		t.Errorf("bulk deletes = %v, want %v", dir.bulkDeletes, want)
	}
}

func TestDeleteFailure(t *testing.T) {
	dir := newFakeDirectory()
	dir.bulkDeleteErr = orthanc.Errorf(orthanc.EBULKFAILED, "bulk delete: status 500")
	set := mustSetFromStudy(t, dir)

	err := set.Delete(context.Background())
	if orthanc.ErrorCode(err) != orthanc.EBULKFAILED {
		t.Fatalf("Delete() error = %v, want code %s", err, orthanc.EBULKFAILED)
	}
}

func TestModify(t *testing.T) {
	dir := newFakeDirectory()
	set := mustSetFromStudy(t, dir)

	dir.modifyResult = &orthanc.BulkModifyResult{
		Resources: []orthanc.ModifiedResource{
			{Kind: orthanc.ResourceStudy, ID: "study-1-mod"},
			{Kind: orthanc.ResourceSeries, ID: "series-a-mod"},
			{Kind: orthanc.ResourceSeries, ID: "series-b-mod"},
			{Kind: orthanc.ResourceInstance, ID: "i1-mod"},
			{Kind: orthanc.ResourceInstance, ID: "i2-mod"},
			{Kind: orthanc.ResourceInstance, ID: "i3-mod"},
		},
	}
	// series-a-mod holds a concurrently received instance that was not part
	// of the modification; it must not enter the new snapshot.
	dir.seriesInstanceIDs["series-a-mod"] = []string{"i1-mod", "i2-mod", "other"}
	dir.seriesInstanceIDs["series-b-mod"] = []string{"i3-mod"}

	modified, err := set.Modify(context.Background(), orthanc.ModifyRequest{
		Replace: map[string]string{"PatientName": "X"},
		Force:   true,
	})
	if err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	if got, want := dir.lastModifyIDs, []string{"i1", "i2", "i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("modify request ids = %v, want %v", got, want)
	}
	if got, want := modified.StudyID(), "study-1-mod"; got != want {
		t.Errorf("modified StudyID() = %q, want %q", got, want)
	}
	if got, want := modified.InstanceIDsForSeries("series-a-mod"), []string{"i1-mod", "i2-mod"}; !reflect.DeepEqual(got, want) {
		t.Errorf("modified series-a instances = %v, want %v", got, want)
	}
	if got, want := modified.InstanceIDsForSeries("series-b-mod"), []string{"i3-mod"}; !reflect.DeepEqual(got, want) {
		t.Errorf("modified series-b instances = %v, want %v", got, want)
	}
	if got, want := len(modified.SeriesIDs()), len(set.SeriesIDs()); got != want {
		t.Errorf("modified series count = %d, want %d", got, want)
	}
	if got, want := len(modified.InstanceIDs()), len(set.InstanceIDs()); got > want {
		t.Errorf("modified instance count = %d, want at most %d", got, want)
	}

	// The original snapshot stays valid.
	if got, want := set.InstanceIDs(), []string{"i1", "i2", "i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("original InstanceIDs() = %v, want %v", got, want)
	}
}

func TestModifyRejected(t *testing.T) {
	dir := newFakeDirectory()
	dir.modifyErr = orthanc.Errorf(orthanc.EINVALID, "bad request")
	set := mustSetFromStudy(t, dir)

	_, err := set.Modify(context.Background(), orthanc.ModifyRequest{Force: true})

	var modErr *orthanc.ModificationError
	if !errors.As(err, &modErr) {
		t.Fatalf("Modify() error = %v, want *ModificationError", err)
	}
	if modErr.Reason != orthanc.ModifyRejected {
		t.Errorf("Reason = %v, want ModifyRejected", modErr.Reason)
	}
	if orthanc.ErrorCode(err) != orthanc.EMODIFICATION {
		t.Errorf("ErrorCode() = %q, want %q", orthanc.ErrorCode(err), orthanc.EMODIFICATION)
	}
}

func TestModifyTopologyChanged(t *testing.T) {
	tests := []struct {
		name      string
		resources []orthanc.ModifiedResource
		reason    orthanc.ModificationFailureReason
	}{
		{
			name: "two studies in response",
			resources: []orthanc.ModifiedResource{
				{Kind: orthanc.ResourceStudy, ID: "s1"},
				{Kind: orthanc.ResourceStudy, ID: "s2"},
				{Kind: orthanc.ResourceSeries, ID: "a"},
				{Kind: orthanc.ResourceSeries, ID: "b"},
				{Kind: orthanc.ResourceInstance, ID: "x1"},
				{Kind: orthanc.ResourceInstance, ID: "x2"},
				{Kind: orthanc.ResourceInstance, ID: "x3"},
			},
			reason: orthanc.ModifyStudyCountChanged,
		},
		{
			name: "series merged",
			resources: []orthanc.ModifiedResource{
				{Kind: orthanc.ResourceStudy, ID: "s1"},
				{Kind: orthanc.ResourceSeries, ID: "a"},
				{Kind: orthanc.ResourceInstance, ID: "x1"},
				{Kind: orthanc.ResourceInstance, ID: "x2"},
				{Kind: orthanc.ResourceInstance, ID: "x3"},
			},
			reason: orthanc.ModifySeriesCountChanged,
		},
		{
			name: "instance lost",
			resources: []orthanc.ModifiedResource{
				{Kind: orthanc.ResourceStudy, ID: "s1"},
				{Kind: orthanc.ResourceSeries, ID: "a"},
				{Kind: orthanc.ResourceSeries, ID: "b"},
				{Kind: orthanc.ResourceInstance, ID: "x1"},
				{Kind: orthanc.ResourceInstance, ID: "x2"},
			},
			reason: orthanc.ModifyInstanceCountChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory()
			dir.modifyResult = &orthanc.BulkModifyResult{Resources: tt.resources}
			set := mustSetFromStudy(t, dir)

			_, err := set.Modify(context.Background(), orthanc.ModifyRequest{Force: true})

			var modErr *orthanc.ModificationError
			if !errors.As(err, &modErr) {
				t.Fatalf("Modify() error = %v, want *ModificationError", err)
			}
			if modErr.Reason != tt.reason {
				t.Errorf("Reason = %v, want %v", modErr.Reason, tt.reason)
			}

			// Failure leaves the original snapshot unmodified.
			if got, want := set.InstanceIDs(), []string{"i1", "i2", "i3"}; !reflect.DeepEqual(got, want) {
				t.Errorf("original InstanceIDs() = %v, want %v", got, want)
			}
		})
	}
}

func TestModifyRequestShape(t *testing.T) {
	dir := newFakeDirectory()
	set := mustSetFromStudy(t, dir)
	dir.modifyErr = orthanc.Errorf(orthanc.EINVALID, "stop here")

	req := orthanc.ModifyRequest{
		Replace:    map[string]string{"PatientID": "anon"},
		Remove:     []string{"InstitutionName"},
		Keep:       []string{"StudyDescription"},
		KeepSource: true,
		Force:      true,
	}
	set.Modify(context.Background(), req)

	if !reflect.DeepEqual(dir.lastModifyReq, req) {
		t.Errorf("modify request = %+v, want %+v", dir.lastModifyReq, req)
	}
}

func TestFilterInstancesPartition(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())

	// Remove i2 and i3: series-b is emptied.
	removed, err := set.FilterInstances(context.Background(), func(_ context.Context, instanceID string) (bool, error) {
		return instanceID == "i1", nil
	})
	if err != nil {
		t.Fatalf("FilterInstances() error = %v", err)
	}

	if got, want := set.InstanceIDs(), []string{"i1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("kept InstanceIDs() = %v, want %v", got, want)
	}
	if got, want := removed.InstanceIDs(), []string{"i2", "i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("removed InstanceIDs() = %v, want %v", got, want)
	}

	// Emptied series dropped from the receiver but recorded in the removed set.
	if got, want := set.SeriesIDs(), []string{"series-a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("kept SeriesIDs() = %v, want %v", got, want)
	}
	if got, want := removed.InstanceIDsForSeries("series-b"), []string{"i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("removed series-b instances = %v, want %v", got, want)
	}
	if got, want := removed.StudyID(), "study-1"; got != want {
		t.Errorf("removed StudyID() = %q, want %q", got, want)
	}

	// Partition: no overlap, union is the original membership.
	kept := make(map[string]bool)
	for _, id := range set.InstanceIDs() {
		kept[id] = true
	}
	for _, id := range removed.InstanceIDs() {
		if kept[id] {
			t.Errorf("instance %s in both kept and removed sets", id)
		}
	}
	if got, want := len(set.InstanceIDs())+len(removed.InstanceIDs()), 3; got != want {
		t.Errorf("kept + removed = %d, want %d", got, want)
	}
}

func TestFilterInstancesKeepAll(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())

	removed, err := set.FilterInstances(context.Background(), func(context.Context, string) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatalf("FilterInstances() error = %v", err)
	}

	if got := removed.InstanceIDs(); len(got) != 0 {
		t.Errorf("removed InstanceIDs() = %v, want empty", got)
	}
	if got, want := set.InstanceIDs(), []string{"i1", "i2", "i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("InstanceIDs() = %v, want %v", got, want)
	}
	if got, want := set.SeriesIDs(), []string{"series-a", "series-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SeriesIDs() = %v, want %v", got, want)
	}
}

func TestFilterInstancesPredicateError(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())
	boom := errors.New("predicate failed")

	_, err := set.FilterInstances(context.Background(), func(_ context.Context, instanceID string) (bool, error) {
		if instanceID == "i2" {
			return false, boom
		}
		return false, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("FilterInstances() error = %v, want %v", err, boom)
	}

	// A failing predicate leaves the snapshot unchanged.
	if got, want := set.InstanceIDs(), []string{"i1", "i2", "i3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("InstanceIDs() = %v, want %v", got, want)
	}
}

func TestProcessInstances(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())

	var processed []string
	err := set.ProcessInstances(context.Background(), func(_ context.Context, instanceID string) error {
		processed = append(processed, instanceID)
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessInstances() error = %v", err)
	}

	if want := []string{"i1", "i2", "i3"}; !reflect.DeepEqual(processed, want) {
		t.Errorf("processed = %v, want %v", processed, want)
	}
}

func TestProcessInstancesStopsOnError(t *testing.T) {
	set := mustSetFromStudy(t, newFakeDirectory())
	boom := errors.New("forward failed")

	var processed []string
	err := set.ProcessInstances(context.Background(), func(_ context.Context, instanceID string) error {
		if instanceID == "i2" {
			return boom
		}
		processed = append(processed, instanceID)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ProcessInstances() error = %v, want %v", err, boom)
	}
	if want := []string{"i1"}; !reflect.DeepEqual(processed, want) {
		t.Errorf("processed = %v, want %v", processed, want)
	}
}
