package orthanc

import (
	"context"
	"fmt"
)

// InstancesSet is a snapshot of the instances of a study at a given time.
//
// Its main use is to avoid this kind of situation:
//   - you wish to modify a study, forward it and delete it
//   - new instances are received while you are processing the study
//   - you "delete" the whole study at the end and lose instances that were
//     never processed
//
// Once captured, the set is never re-synchronized with the live server state:
// membership only changes through FilterInstances, and Modify builds a new,
// distinct set for the freshly assigned identifiers. An InstancesSet is not
// safe for concurrent use; callers needing that must serialize access
// themselves.
type InstancesSet struct {
	dir ResourceDirectory

	studyID        string
	seriesOrder    []string
	bySeries       map[string][]string
	allInstanceIDs []string
}

// KeepFunc decides whether an instance stays in the set: true keeps the
// instance, false removes it. The function may itself query the server.
type KeepFunc func(ctx context.Context, instanceID string) (bool, error)

// ProcessFunc is applied to every instance of a set, in snapshot order.
type ProcessFunc func(ctx context.Context, instanceID string) error

func newInstancesSet(dir ResourceDirectory) *InstancesSet {
	return &InstancesSet{
		dir:      dir,
		bySeries: make(map[string][]string),
	}
}

// NewInstancesSetFromStudy snapshots every series of an already fetched study.
func NewInstancesSetFromStudy(ctx context.Context, dir ResourceDirectory, study *Study) (*InstancesSet, error) {
	s := newInstancesSet(dir)
	s.studyID = study.ID

	for _, seriesID := range study.SeriesIDs {
		if err := s.AddSeries(ctx, seriesID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewInstancesSetFromStudyID resolves the study, then snapshots it.
func NewInstancesSetFromStudyID(ctx context.Context, dir ResourceDirectory, studyID string) (*InstancesSet, error) {
	study, err := dir.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	return NewInstancesSetFromStudy(ctx, dir, study)
}

// NewInstancesSetFromSeries snapshots a single already fetched series. The
// study identifier is taken from the series' parent reference.
func NewInstancesSetFromSeries(ctx context.Context, dir ResourceDirectory, series *Series) (*InstancesSet, error) {
	s := newInstancesSet(dir)
	s.studyID = series.ParentStudyID

	if err := s.AddSeries(ctx, series.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// NewInstancesSetFromSeriesID resolves the series, then snapshots it.
func NewInstancesSetFromSeriesID(ctx context.Context, dir ResourceDirectory, seriesID string) (*InstancesSet, error) {
	series, err := dir.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	return NewInstancesSetFromSeries(ctx, dir, series)
}

// NewInstancesSetFromInstance builds a degenerate one-series, one-instance
// snapshot. The study identifier is derived through the instance's series.
func NewInstancesSetFromInstance(ctx context.Context, dir ResourceDirectory, instance *Instance) (*InstancesSet, error) {
	series, err := dir.GetSeries(ctx, instance.ParentSeriesID)
	if err != nil {
		return nil, err
	}

	s := newInstancesSet(dir)
	s.studyID = series.ParentStudyID
	s.addSeries(instance.ParentSeriesID, []string{instance.ID})
	return s, nil
}

// NewInstancesSetFromInstanceID resolves the instance, then snapshots it.
func NewInstancesSetFromInstanceID(ctx context.Context, dir ResourceDirectory, instanceID string) (*InstancesSet, error) {
	instance, err := dir.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return NewInstancesSetFromInstance(ctx, dir, instance)
}

// AddSeries queries the series' current instances and appends them to the set.
func (s *InstancesSet) AddSeries(ctx context.Context, seriesID string) error {
	instanceIDs, err := s.dir.GetSeriesInstanceIDs(ctx, seriesID)
	if err != nil {
		return err
	}
	s.addSeries(seriesID, instanceIDs)
	return nil
}

func (s *InstancesSet) addSeries(seriesID string, instanceIDs []string) {
	if _, ok := s.bySeries[seriesID]; !ok {
		s.seriesOrder = append(s.seriesOrder, seriesID)
	}
	s.bySeries[seriesID] = instanceIDs
	s.allInstanceIDs = append(s.allInstanceIDs, instanceIDs...)
}

// StudyID returns the identifier of the study this snapshot was taken from.
func (s *InstancesSet) StudyID() string {
	return s.studyID
}

// InstanceIDs returns every instance identifier in the snapshot, in series
// insertion order then per-series order.
func (s *InstancesSet) InstanceIDs() []string {
	return s.allInstanceIDs
}

// SeriesIDs returns the series identifiers in insertion order.
func (s *InstancesSet) SeriesIDs() []string {
	return s.seriesOrder
}

// InstanceIDsForSeries returns the instance identifiers of one series, or nil
// for a series that is not part of the snapshot.
func (s *InstancesSet) InstanceIDsForSeries(seriesID string) []string {
	return s.bySeries[seriesID]
}

// Delete removes every instance of the snapshot from the server in a single
// bulk-delete request.
func (s *InstancesSet) Delete(ctx context.Context) error {
	return s.dir.BulkDelete(ctx, s.allInstanceIDs)
}

// Modify submits a bulk modification of every instance in the snapshot and
// returns a new InstancesSet describing the modified resources. The receiver
// remains valid and untouched.
//
// The server response must describe the same resource topology as the
// snapshot (one study, same series count, same instance count); anything else
// means the modification did something unexpected (e.g. merged series) and
// yields a *ModificationError. Because a series on the server may contain
// instances beyond those just modified (e.g. received concurrently), each
// resulting series is re-queried and intersected with the identifiers the
// modification reported.
func (s *InstancesSet) Modify(ctx context.Context, req ModifyRequest) (*InstancesSet, error) {
	result, err := s.dir.BulkModify(ctx, s.allInstanceIDs, req)
	if err != nil {
		return nil, &ModificationError{Reason: ModifyRejected, Err: err}
	}

	var studyIDs, seriesIDs, instanceIDs []string
	seen := make(map[string]bool)
	for _, r := range result.Resources {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		switch r.Kind {
		case ResourceStudy:
			studyIDs = append(studyIDs, r.ID)
		case ResourceSeries:
			seriesIDs = append(seriesIDs, r.ID)
		case ResourceInstance:
			instanceIDs = append(instanceIDs, r.ID)
		}
	}

	if len(studyIDs) != 1 {
		return nil, &ModificationError{
			Reason: ModifyStudyCountChanged,
			Detail: fmt.Sprintf("response names %d studies, want 1", len(studyIDs)),
		}
	}
	if len(seriesIDs) != len(s.seriesOrder) {
		return nil, &ModificationError{
			Reason: ModifySeriesCountChanged,
			Detail: fmt.Sprintf("response names %d series, snapshot has %d", len(seriesIDs), len(s.seriesOrder)),
		}
	}
	if len(instanceIDs) != len(s.allInstanceIDs) {
		return nil, &ModificationError{
			Reason: ModifyInstanceCountChanged,
			Detail: fmt.Sprintf("response names %d instances, snapshot has %d", len(instanceIDs), len(s.allInstanceIDs)),
		}
	}

	wasModified := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		wasModified[id] = true
	}

	modified := newInstancesSet(s.dir)
	modified.studyID = studyIDs[0]

	for _, seriesID := range seriesIDs {
		current, err := s.dir.GetSeriesInstanceIDs(ctx, seriesID)
		if err != nil {
			return nil, err
		}

		// The series might contain instances that do not come from our
		// modification; ignore them.
		var kept []string
		for _, id := range current {
			if wasModified[id] {
				kept = append(kept, id)
			}
		}
		modified.addSeries(seriesID, kept)
	}

	return modified, nil
}

// FilterInstances removes from the set every instance for which keep answers
// false, and returns the removed instances as a new set preserving their
// original series grouping. A series emptied by the filter is dropped from
// the receiver but still recorded in the returned set.
//
// The receiver is only mutated once every predicate call has answered, so a
// failing predicate leaves it unchanged.
func (s *InstancesSet) FilterInstances(ctx context.Context, keep KeepFunc) (*InstancesSet, error) {
	drop := make(map[string]bool)
	for _, instanceID := range s.allInstanceIDs {
		ok, err := keep(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if !ok {
			drop[instanceID] = true
		}
	}

	removed := newInstancesSet(s.dir)
	removed.studyID = s.studyID

	var keptSeries []string
	for _, seriesID := range s.seriesOrder {
		var kept, dropped []string
		for _, id := range s.bySeries[seriesID] {
			if drop[id] {
				dropped = append(dropped, id)
			} else {
				kept = append(kept, id)
			}
		}

		removed.addSeries(seriesID, dropped)

		if len(kept) == 0 {
			delete(s.bySeries, seriesID)
			continue
		}
		s.bySeries[seriesID] = kept
		keptSeries = append(keptSeries, seriesID)
	}
	s.seriesOrder = keptSeries

	var remaining []string
	for _, id := range s.allInstanceIDs {
		if !drop[id] {
			remaining = append(remaining, id)
		}
	}
	s.allInstanceIDs = remaining

	return removed, nil
}

// ProcessInstances applies process to every instance identifier in snapshot
// order. The first error aborts the iteration and is returned as is.
func (s *InstancesSet) ProcessInstances(ctx context.Context, process ProcessFunc) error {
	for _, instanceID := range s.allInstanceIDs {
		if err := process(ctx, instanceID); err != nil {
			return err
		}
	}
	return nil
}
