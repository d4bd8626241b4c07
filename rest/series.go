package rest

import (
	"context"
	"fmt"
	"path/filepath"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// SeriesService exposes the series-level operations of the server.
type SeriesService struct {
	resourceService
}

// Get resolves a series identifier.
func (s *SeriesService) Get(ctx context.Context, seriesID string) (*orthanc.Series, error) {
	var series orthanc.Series
	if err := s.client.getJSON(ctx, fmt.Sprintf("/%s/%s", s.segment, seriesID), &series); err != nil {
		return nil, err
	}
	return &series, nil
}

// GetInstanceIDs returns the ordered identifiers of the series' instances.
func (s *SeriesService) GetInstanceIDs(ctx context.Context, seriesID string) ([]string, error) {
	series, err := s.Get(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	return series.InstanceIDs, nil
}

// GetParentStudyID returns the identifier of the series' study.
func (s *SeriesService) GetParentStudyID(ctx context.Context, seriesID string) (string, error) {
	series, err := s.Get(ctx, seriesID)
	if err != nil {
		return "", err
	}
	return series.ParentStudyID, nil
}

// GetParentPatientID returns the identifier of the series' patient, resolved
// through its study.
func (s *SeriesService) GetParentPatientID(ctx context.Context, seriesID string) (string, error) {
	studyID, err := s.GetParentStudyID(ctx, seriesID)
	if err != nil {
		return "", err
	}
	return s.client.Studies.GetParentPatientID(ctx, studyID)
}

// GetTags returns the tags of the series' first instance.
func (s *SeriesService) GetTags(ctx context.Context, seriesID string) (orthanc.Tags, error) {
	instanceIDs, err := s.GetInstanceIDs(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if len(instanceIDs) == 0 {
		return nil, orthanc.Errorf(orthanc.ENOTFOUND, "series %s has no instances", seriesID)
	}
	return s.client.Instances.GetTags(ctx, instanceIDs[0])
}

// Lookup resolves a SeriesInstanceUID to the server's series identifier.
func (s *SeriesService) Lookup(ctx context.Context, seriesInstanceUID string) (string, error) {
	return s.lookup(ctx, orthanc.ResourceSeries, seriesInstanceUID)
}

// Anonymize anonymizes the series server-side and returns the identifier of
// the anonymized series.
func (s *SeriesService) Anonymize(ctx context.Context, seriesID string, opts AnonymizeOptions) (string, error) {
	return s.anonymize(ctx, seriesID, opts)
}

// Modify modifies the series server-side and returns the identifier of the
// modified series.
func (s *SeriesService) Modify(ctx context.Context, seriesID string, opts ModifyOptions) (string, error) {
	return s.modify(ctx, seriesID, opts)
}

// Download writes every instance of the series into dir, named after its
// identifier, and reports what was written where.
func (s *SeriesService) Download(ctx context.Context, seriesID, dir string) ([]orthanc.DownloadedInstance, error) {
	instanceIDs, err := s.GetInstanceIDs(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	var downloaded []orthanc.DownloadedInstance
	for _, instanceID := range instanceIDs {
		file, err := s.client.Instances.Download(ctx, instanceID, filepath.Join(dir, instanceID+".dcm"))
		if err != nil {
			return downloaded, err
		}
		downloaded = append(downloaded, file)
	}
	return downloaded, nil
}
