package rest

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// AnonymizeOptions describes a per-resource anonymization.
//
// Replace forces tag values on top of the server's anonymization profile and
// Keep names tags whose original values must survive. Force must be set for
// edits the server considers dangerous (e.g. PatientID). DeleteOriginal
// removes the source resource once the anonymized copy exists.
type AnonymizeOptions struct {
	Replace        map[string]string
	Keep           []string
	DeleteOriginal bool
	Force          bool
}

// ModifyOptions describes a per-resource modification.
type ModifyOptions struct {
	Replace        map[string]string
	Remove         []string
	DeleteOriginal bool
	Force          bool
}

// resourceService carries the operations shared by the study, series and
// instance services. segment is the URL segment of the resource level
// ("studies", "series" or "instances").
type resourceService struct {
	client  *Client
	segment string
}

// GetAllIDs returns the identifiers of every resource at this level.
func (s *resourceService) GetAllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.client.getJSON(ctx, "/"+s.segment, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes one resource.
func (s *resourceService) Delete(ctx context.Context, id string) error {
	s.client.log.Info("deleting resource",
		zap.String("type", s.segment),
		zap.String("id", id))
	return s.client.delete(ctx, fmt.Sprintf("/%s/%s", s.segment, id))
}

// DeleteAll removes every resource at this level and returns the identifiers
// it deleted.
func (s *resourceService) DeleteAll(ctx context.Context) ([]string, error) {
	ids, err := s.GetAllIDs(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// SetAttachment stores an attachment on the resource. contentType and
// matchRevision are optional; matchRevision makes the write conditional on
// the attachment's current revision (If-Match).
func (s *resourceService) SetAttachment(ctx context.Context, id, name string, content []byte, contentType, matchRevision string) error {
	headers := map[string]string{}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	if matchRevision != "" {
		headers["If-Match"] = matchRevision
	}

	return s.client.put(ctx, fmt.Sprintf("/%s/%s/attachments/%s", s.segment, id, name), content, headers)
}

// SetAttachmentFromFile stores the content of a local file as an attachment.
func (s *resourceService) SetAttachmentFromFile(ctx context.Context, id, name, path, contentType, matchRevision string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.SetAttachment(ctx, id, name, content, contentType, matchRevision)
}

// GetAttachment returns the content of an attachment.
func (s *resourceService) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	content, _, err := s.GetAttachmentWithRevision(ctx, id, name)
	return content, err
}

// GetAttachmentWithRevision returns the content of an attachment together
// with its current revision.
func (s *resourceService) GetAttachmentWithRevision(ctx context.Context, id, name string) ([]byte, string, error) {
	path := fmt.Sprintf("/%s/%s/attachments/%s/data", s.segment, id, name)

	resp, err := s.client.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, "", orthanc.Errorf(orthanc.EINTERNAL, "GET %s: %v", path, err)
	}
	if resp.IsError() {
		return nil, "", responseError(resp)
	}
	return resp.Body(), resp.Header().Get("ETag"), nil
}

// DownloadAttachment writes the content of an attachment to a local file.
func (s *resourceService) DownloadAttachment(ctx context.Context, id, name, path string) error {
	content, err := s.GetAttachment(ctx, id, name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

// SetMetadata stores a metadata entry on the resource. matchRevision is
// optional and makes the write conditional on the entry's current revision.
func (s *resourceService) SetMetadata(ctx context.Context, id, name string, content []byte, matchRevision string) error {
	headers := map[string]string{}
	if matchRevision != "" {
		headers["If-Match"] = matchRevision
	}

	return s.client.put(ctx, fmt.Sprintf("/%s/%s/metadata/%s", s.segment, id, name), content, headers)
}

// GetMetadata returns a metadata entry. An absent entry yields ENOTFOUND;
// branch with orthanc.IsNotFound to supply a default.
func (s *resourceService) GetMetadata(ctx context.Context, id, name string) ([]byte, error) {
	content, _, err := s.GetMetadataWithRevision(ctx, id, name)
	return content, err
}

// GetMetadataWithRevision returns a metadata entry together with its current
// revision.
func (s *resourceService) GetMetadataWithRevision(ctx context.Context, id, name string) ([]byte, string, error) {
	path := fmt.Sprintf("/%s/%s/metadata/%s", s.segment, id, name)

	resp, err := s.client.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, "", orthanc.Errorf(orthanc.EINTERNAL, "GET %s: %v", path, err)
	}
	if resp.IsError() {
		return nil, "", responseError(resp)
	}
	return resp.Body(), resp.Header().Get("ETag"), nil
}

// createdResource is the server's answer to anonymize/modify/create calls
// that produce a single resource.
type createdResource struct {
	ID string `json:"ID"`
}

// anonymize runs the server-side anonymization of one resource and returns
// the identifier of the anonymized copy.
func (s *resourceService) anonymize(ctx context.Context, id string, opts AnonymizeOptions) (string, error) {
	body := map[string]interface{}{
		"Force": opts.Force,
	}
	if len(opts.Replace) > 0 {
		body["Replace"] = opts.Replace
	}
	if len(opts.Keep) > 0 {
		body["Keep"] = opts.Keep
	}

	var created createdResource
	if err := s.client.postJSON(ctx, fmt.Sprintf("/%s/%s/anonymize", s.segment, id), body, &created); err != nil {
		return "", err
	}

	if opts.DeleteOriginal && created.ID != id {
		if err := s.Delete(ctx, id); err != nil {
			return created.ID, err
		}
	}
	return created.ID, nil
}

// modify runs the server-side modification of one resource and returns the
// identifier of the modified copy.
func (s *resourceService) modify(ctx context.Context, id string, opts ModifyOptions) (string, error) {
	body := map[string]interface{}{
		"Force": opts.Force,
	}
	if len(opts.Replace) > 0 {
		body["Replace"] = opts.Replace
	}
	if len(opts.Remove) > 0 {
		body["Remove"] = opts.Remove
	}

	var created createdResource
	if err := s.client.postJSON(ctx, fmt.Sprintf("/%s/%s/modify", s.segment, id), body, &created); err != nil {
		return "", err
	}

	if opts.DeleteOriginal && created.ID != id {
		if err := s.Delete(ctx, id); err != nil {
			return created.ID, err
		}
	}
	return created.ID, nil
}

// lookupEntry is one match of a tools/lookup call.
type lookupEntry struct {
	Kind orthanc.ResourceKind `json:"Type"`
	ID   string               `json:"ID"`
}

// lookup resolves a DICOM identifier (StudyInstanceUID, SeriesInstanceUID or
// SOPInstanceUID) to the server's own identifier at the given level. An
// unknown identifier yields ENOTFOUND.
func (s *resourceService) lookup(ctx context.Context, kind orthanc.ResourceKind, dicomUID string) (string, error) {
	var entries []lookupEntry
	resp, err := s.client.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(dicomUID).
		SetResult(&entries).
		Post("/tools/lookup")
	if err != nil {
		return "", orthanc.Errorf(orthanc.EINTERNAL, "POST /tools/lookup: %v", err)
	}
	if resp.IsError() {
		return "", responseError(resp)
	}

	for _, entry := range entries {
		if entry.Kind == kind {
			return entry.ID, nil
		}
	}
	return "", orthanc.Errorf(orthanc.ENOTFOUND, "no %s matches %q", kind, dicomUID)
}
