package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"go.uber.org/zap"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// SOPClassUID of an encapsulated PDF document.
const sopClassEncapsulatedPDF = "1.2.840.10008.5.1.4.1.1.104.1"

// uploadedResource is one resource created by an upload.
type uploadedResource struct {
	ID     string `json:"ID"`
	Status string `json:"Status"`
}

// Upload stores a DICOM file on the server and returns the identifiers of
// the created instances. A ZIP archive yields one identifier per contained
// file.
func (c *Client) Upload(ctx context.Context, content []byte) ([]string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/dicom").
		SetBody(content).
		Post("/instances")
	if err != nil {
		return nil, orthanc.Errorf(orthanc.EINTERNAL, "POST /instances: %v", err)
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}

	// A single file yields one object, an archive yields an array.
	var many []uploadedResource
	if err := json.Unmarshal(resp.Body(), &many); err != nil {
		var one uploadedResource
		if err := json.Unmarshal(resp.Body(), &one); err != nil {
			return nil, orthanc.Errorf(orthanc.EINTERNAL, "unexpected upload response: %v", err)
		}
		many = []uploadedResource{one}
	}

	ids := make([]string, 0, len(many))
	for _, r := range many {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// UploadFile stores a local DICOM file on the server.
func (c *Client) UploadFile(ctx context.Context, path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if uid, err := sopInstanceUID(content); err == nil {
		c.log.Debug("uploading instance",
			zap.String("path", path),
			zap.String("sopInstanceUID", uid))
	}

	return c.Upload(ctx, content)
}

// UploadFolder stores every DICOM file found under dir (recursively) on the
// server. Files that do not parse as DICOM are skipped.
func (c *Client) UploadFolder(ctx context.Context, dir string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := sopInstanceUID(content); err != nil {
			c.log.Debug("skipping non-DICOM file", zap.String("path", path))
			return nil
		}

		uploaded, err := c.Upload(ctx, content)
		if err != nil {
			return err
		}
		ids = append(ids, uploaded...)
		return nil
	})
	if err != nil {
		return ids, err
	}
	return ids, nil
}

// CreatePDF creates a new instance embedding the given PDF file through
// tools/create-dicom and returns its identifier. tags are added to the
// created instance; parentID attaches it to an existing resource.
func (c *Client) CreatePDF(ctx context.Context, pdfPath string, tags map[string]string, parentID string) (string, error) {
	content, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", err
	}

	allTags := map[string]string{
		"SOPClassUID": sopClassEncapsulatedPDF,
	}
	for name, value := range tags {
		allTags[name] = value
	}

	body := map[string]interface{}{
		"Tags":    allTags,
		"Content": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(content),
	}
	if parentID != "" {
		body["Parent"] = parentID
	}

	var created createdResource
	if err := c.postJSON(ctx, "/tools/create-dicom", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// sopInstanceUID extracts the SOPInstanceUID from a DICOM file. The parser
// panics on malformed input, so panics are turned into errors.
func sopInstanceUID(content []byte) (uid string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse dicom: %v", r)
		}
	}()

	parser, err := dicom.NewParserFromBytes(content, nil)
	if err != nil {
		return "", err
	}

	dataset, err := parser.Parse(dicom.ParseOptions{DropPixelData: true})
	if dataset == nil || err != nil {
		return "", fmt.Errorf("parse dicom: %v", err)
	}

	for _, elem := range dataset.Elements {
		if elem.Tag == dicomtag.SOPInstanceUID && len(elem.Value) > 0 {
			if value, ok := elem.Value[0].(string); ok {
				return value, nil
			}
		}
	}
	return "", fmt.Errorf("no SOPInstanceUID element")
}
