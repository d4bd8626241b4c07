package rest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// InstanceService exposes the instance-level operations of the server.
type InstanceService struct {
	resourceService
}

// Get resolves an instance identifier.
func (s *InstanceService) Get(ctx context.Context, instanceID string) (*orthanc.Instance, error) {
	var instance orthanc.Instance
	if err := s.client.getJSON(ctx, fmt.Sprintf("/%s/%s", s.segment, instanceID), &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetFile returns the instance's DICOM file.
func (s *InstanceService) GetFile(ctx context.Context, instanceID string) ([]byte, error) {
	return s.client.getBinary(ctx, fmt.Sprintf("/%s/%s/file", s.segment, instanceID))
}

// GetTags returns the instance's simplified DICOM tags.
func (s *InstanceService) GetTags(ctx context.Context, instanceID string) (orthanc.Tags, error) {
	var tags orthanc.Tags
	if err := s.client.getJSON(ctx, fmt.Sprintf("/%s/%s/tags?simplify", s.segment, instanceID), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetParentSeriesID returns the identifier of the instance's series.
func (s *InstanceService) GetParentSeriesID(ctx context.Context, instanceID string) (string, error) {
	instance, err := s.Get(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return instance.ParentSeriesID, nil
}

// GetParentStudyID returns the identifier of the instance's study, resolved
// through its series.
func (s *InstanceService) GetParentStudyID(ctx context.Context, instanceID string) (string, error) {
	seriesID, err := s.GetParentSeriesID(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return s.client.Series.GetParentStudyID(ctx, seriesID)
}

// GetParentPatientID returns the identifier of the instance's patient,
// resolved through its series and study.
func (s *InstanceService) GetParentPatientID(ctx context.Context, instanceID string) (string, error) {
	seriesID, err := s.GetParentSeriesID(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return s.client.Series.GetParentPatientID(ctx, seriesID)
}

// Lookup resolves a SOPInstanceUID to the server's instance identifier.
func (s *InstanceService) Lookup(ctx context.Context, sopInstanceUID string) (string, error) {
	return s.lookup(ctx, orthanc.ResourceInstance, sopInstanceUID)
}

// Modify modifies a single instance server-side and returns the modified
// DICOM file. The file is not stored on the server; upload it to keep it.
// opts.DeleteOriginal is ignored here, it only applies to ModifyBulk.
func (s *InstanceService) Modify(ctx context.Context, instanceID string, opts ModifyOptions) ([]byte, error) {
	body := map[string]interface{}{
		"Force": opts.Force,
	}
	if len(opts.Replace) > 0 {
		body["Replace"] = opts.Replace
	}
	if len(opts.Remove) > 0 {
		body["Remove"] = opts.Remove
	}

	path := fmt.Sprintf("/%s/%s/modify", s.segment, instanceID)
	resp, err := s.client.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return nil, orthanc.Errorf(orthanc.EINTERNAL, "POST %s: %v", path, err)
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}
	return resp.Body(), nil
}

// ModifyBulk modifies each named instance one by one, uploading every
// modified file back to the server, and returns the identifiers of the
// modified instances. With opts.DeleteOriginal, each source instance is
// removed once its modified copy is stored.
func (s *InstanceService) ModifyBulk(ctx context.Context, instanceIDs []string, opts ModifyOptions) ([]string, error) {
	var modifiedIDs []string
	for _, instanceID := range instanceIDs {
		content, err := s.Modify(ctx, instanceID, opts)
		if err != nil {
			return modifiedIDs, err
		}

		uploadedIDs, err := s.client.Upload(ctx, content)
		if err != nil {
			return modifiedIDs, err
		}
		if len(uploadedIDs) != 1 {
			return modifiedIDs, orthanc.Errorf(orthanc.EMODIFICATION,
				"upload of modified instance %s produced %d instances, want 1", instanceID, len(uploadedIDs))
		}
		modifiedID := uploadedIDs[0]

		if opts.DeleteOriginal && modifiedID != instanceID {
			if err := s.Delete(ctx, instanceID); err != nil {
				return modifiedIDs, err
			}
		}
		modifiedIDs = append(modifiedIDs, modifiedID)
	}
	return modifiedIDs, nil
}

// IsPDF reports whether the instance embeds a PDF document.
func (s *InstanceService) IsPDF(ctx context.Context, instanceID string) (bool, error) {
	tags, err := s.GetTags(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return tags.Get("MIMETypeOfEncapsulatedDocument") == "application/pdf", nil
}

// DownloadPDF writes the PDF embedded in the instance to path. Fails if the
// instance does not embed a PDF.
func (s *InstanceService) DownloadPDF(ctx context.Context, instanceID, path string) (string, error) {
	content, err := s.client.getBinary(ctx, fmt.Sprintf("/%s/%s/pdf", s.segment, instanceID))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Download writes the instance's DICOM file to path.
func (s *InstanceService) Download(ctx context.Context, instanceID, path string) (orthanc.DownloadedInstance, error) {
	content, err := s.GetFile(ctx, instanceID)
	if err != nil {
		return orthanc.DownloadedInstance{}, err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return orthanc.DownloadedInstance{}, err
	}
	return orthanc.DownloadedInstance{InstanceID: instanceID, Path: path}, nil
}

// DownloadMany writes each named instance into dir as <instance-id>.dcm.
func (s *InstanceService) DownloadMany(ctx context.Context, instanceIDs []string, dir string) ([]orthanc.DownloadedInstance, error) {
	var downloaded []orthanc.DownloadedInstance
	for _, instanceID := range instanceIDs {
		file, err := s.Download(ctx, instanceID, filepath.Join(dir, instanceID+".dcm"))
		if err != nil {
			return downloaded, err
		}
		downloaded = append(downloaded, file)
	}
	return downloaded, nil
}
