package validation

import (
	"fmt"

	"github.com/landrop-server/landrop-server/internal/models"
)

// MaxFilesPerTransfer bounds a single manifest.
const MaxFilesPerTransfer = 100

// Validator checks protocol payloads before they touch the registries
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateSelfDescription checks an identity payload.
func (v *Validator) ValidateSelfDescription(info *models.SelfDescription) error {
	if info.Alias == "" {
		return fmt.Errorf("alias is required")
	}
	if info.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	return nil
}

// ValidatePrepareUpload checks a transfer handshake request.
func (v *Validator) ValidatePrepareUpload(req *models.PrepareUploadRequest) error {
	if err := v.ValidateSelfDescription(&req.Info); err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if len(req.Files) == 0 {
		return fmt.Errorf("file manifest is empty")
	}
	if len(req.Files) > MaxFilesPerTransfer {
		return fmt.Errorf("manifest exceeds %d files", MaxFilesPerTransfer)
	}
	for id, file := range req.Files {
		if id == "" {
			return fmt.Errorf("empty file id")
		}
		if file.FileName == "" {
			return fmt.Errorf("file %s: fileName is required", id)
		}
		if file.Size < 0 {
			return fmt.Errorf("file %s: negative size", id)
		}
	}
	return nil
}
