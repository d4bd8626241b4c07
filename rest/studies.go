package rest

import (
	"context"
	"fmt"
	"time"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// StudyService exposes the study-level operations of the server.
type StudyService struct {
	resourceService
}

// Get resolves a study identifier.
func (s *StudyService) Get(ctx context.Context, studyID string) (*orthanc.Study, error) {
	var study orthanc.Study
	if err := s.client.getJSON(ctx, fmt.Sprintf("/%s/%s", s.segment, studyID), &study); err != nil {
		return nil, err
	}
	return &study, nil
}

// GetSeriesIDs returns the identifiers of the study's series.
func (s *StudyService) GetSeriesIDs(ctx context.Context, studyID string) ([]string, error) {
	study, err := s.Get(ctx, studyID)
	if err != nil {
		return nil, err
	}
	return study.SeriesIDs, nil
}

// GetInstanceIDs returns the identifiers of every instance of the study,
// series by series.
func (s *StudyService) GetInstanceIDs(ctx context.Context, studyID string) ([]string, error) {
	seriesIDs, err := s.GetSeriesIDs(ctx, studyID)
	if err != nil {
		return nil, err
	}

	var instanceIDs []string
	for _, seriesID := range seriesIDs {
		ids, err := s.client.Series.GetInstanceIDs(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		instanceIDs = append(instanceIDs, ids...)
	}
	return instanceIDs, nil
}

// GetFirstInstanceID returns the identifier of the study's first instance.
func (s *StudyService) GetFirstInstanceID(ctx context.Context, studyID string) (string, error) {
	instanceIDs, err := s.GetInstanceIDs(ctx, studyID)
	if err != nil {
		return "", err
	}
	if len(instanceIDs) == 0 {
		return "", orthanc.Errorf(orthanc.ENOTFOUND, "study %s has no instances", studyID)
	}
	return instanceIDs[0], nil
}

// GetParentPatientID returns the identifier of the study's patient.
func (s *StudyService) GetParentPatientID(ctx context.Context, studyID string) (string, error) {
	study, err := s.Get(ctx, studyID)
	if err != nil {
		return "", err
	}
	return study.ParentPatientID, nil
}

// GetTags returns the tags of one instance of the study, from which the
// study- and patient-level tags can safely be read.
func (s *StudyService) GetTags(ctx context.Context, studyID string) (orthanc.Tags, error) {
	instanceID, err := s.GetFirstInstanceID(ctx, studyID)
	if err != nil {
		return nil, err
	}
	return s.client.Instances.GetTags(ctx, instanceID)
}

// Lookup resolves a StudyInstanceUID to the server's study identifier.
func (s *StudyService) Lookup(ctx context.Context, studyInstanceUID string) (string, error) {
	return s.lookup(ctx, orthanc.ResourceStudy, studyInstanceUID)
}

// Find searches studies by tag values through tools/find and returns the
// matching studies, expanded.
func (s *StudyService) Find(ctx context.Context, query map[string]string, caseSensitive bool) ([]*orthanc.Study, error) {
	body := map[string]interface{}{
		"Level":         string(orthanc.ResourceStudy),
		"Query":         query,
		"Expand":        true,
		"CaseSensitive": caseSensitive,
	}

	var studies []*orthanc.Study
	if err := s.client.postJSON(ctx, "/tools/find", body, &studies); err != nil {
		return nil, err
	}
	return studies, nil
}

// Anonymize anonymizes the whole study server-side and returns the identifier
// of the anonymized study.
func (s *StudyService) Anonymize(ctx context.Context, studyID string, opts AnonymizeOptions) (string, error) {
	return s.anonymize(ctx, studyID, opts)
}

// Modify modifies the whole study server-side and returns the identifier of
// the modified study.
func (s *StudyService) Modify(ctx context.Context, studyID string, opts ModifyOptions) (string, error) {
	return s.modify(ctx, studyID, opts)
}

// ModifyInstanceByInstance modifies every instance of the study one by one,
// re-uploading each modified file, and returns the identifier of the
// resulting study. Slower than Modify but preserves instance-level control.
func (s *StudyService) ModifyInstanceByInstance(ctx context.Context, studyID string, opts ModifyOptions) (string, error) {
	instanceIDs, err := s.GetInstanceIDs(ctx, studyID)
	if err != nil {
		return "", err
	}

	modifiedIDs, err := s.client.Instances.ModifyBulk(ctx, instanceIDs, opts)
	if err != nil {
		return "", err
	}
	if len(modifiedIDs) == 0 {
		return "", orthanc.Errorf(orthanc.EMODIFICATION, "study %s has no instances to modify", studyID)
	}

	return s.client.Instances.GetParentStudyID(ctx, modifiedIDs[0])
}

// Merge moves the given series into the target study.
func (s *StudyService) Merge(ctx context.Context, targetStudyID string, sourceSeriesIDs []string, keepSource bool) error {
	body := map[string]interface{}{
		"Resources":  sourceSeriesIDs,
		"KeepSource": keepSource,
	}
	return s.client.postJSON(ctx, fmt.Sprintf("/%s/%s/merge", s.segment, targetStudyID), body, nil)
}

// AttachPDF creates a new instance embedding the PDF file, in a new series
// attached to the study, and returns the identifier of the created instance.
// A zero "at" leaves the series date and time unset.
func (s *StudyService) AttachPDF(ctx context.Context, studyID, pdfPath, seriesDescription string, at time.Time) (string, error) {
	tags := map[string]string{
		"SeriesDescription": seriesDescription,
	}
	if !at.IsZero() {
		tags["SeriesDate"] = orthanc.ToDicomDate(at)
		tags["SeriesTime"] = orthanc.ToDicomTime(at)
	}

	return s.client.CreatePDF(ctx, pdfPath, tags, studyID)
}

// GetPDFInstanceIDs returns the identifiers of the study's instances that
// embed a PDF document. Series holding more than maxSeriesSize instances are
// skipped, since large series are very unlikely to contain PDF reports; pass
// 0 to scan every series.
func (s *StudyService) GetPDFInstanceIDs(ctx context.Context, studyID string, maxSeriesSize int) ([]string, error) {
	seriesIDs, err := s.GetSeriesIDs(ctx, studyID)
	if err != nil {
		return nil, err
	}

	var pdfIDs []string
	for _, seriesID := range seriesIDs {
		instanceIDs, err := s.client.Series.GetInstanceIDs(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		if maxSeriesSize > 0 && len(instanceIDs) > maxSeriesSize {
			continue
		}

		for _, instanceID := range instanceIDs {
			isPDF, err := s.client.Instances.IsPDF(ctx, instanceID)
			if err != nil {
				return nil, err
			}
			if isPDF {
				pdfIDs = append(pdfIDs, instanceID)
			}
		}
	}
	return pdfIDs, nil
}

// Download writes every instance of the study into dir, one file per
// instance, and reports what was written where.
func (s *StudyService) Download(ctx context.Context, studyID, dir string) ([]orthanc.DownloadedInstance, error) {
	seriesIDs, err := s.GetSeriesIDs(ctx, studyID)
	if err != nil {
		return nil, err
	}

	var downloaded []orthanc.DownloadedInstance
	for _, seriesID := range seriesIDs {
		files, err := s.client.Series.Download(ctx, seriesID, dir)
		if err != nil {
			return downloaded, err
		}
		downloaded = append(downloaded, files...)
	}
	return downloaded, nil
}
