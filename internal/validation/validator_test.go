package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/landrop-server/landrop-server/internal/models"
)

func validRequest() *models.PrepareUploadRequest {
	return &models.PrepareUploadRequest{
		Info: models.SelfDescription{Alias: "Phone", Fingerprint: "fp"},
		Files: map[string]models.FileMetadata{
			"f1": {FileName: "a.txt", Size: 10},
		},
	}
}

func TestValidateSelfDescription(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSelfDescription(&models.SelfDescription{Alias: "x", Fingerprint: "fp"}))
	assert.Error(t, v.ValidateSelfDescription(&models.SelfDescription{Fingerprint: "fp"}))
	assert.Error(t, v.ValidateSelfDescription(&models.SelfDescription{Alias: "x"}))
}

func TestValidatePrepareUpload(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePrepareUpload(validRequest()))

	req := validRequest()
	req.Info.Alias = ""
	assert.Error(t, v.ValidatePrepareUpload(req))

	req = validRequest()
	req.Files = nil
	assert.Error(t, v.ValidatePrepareUpload(req))

	req = validRequest()
	req.Files[""] = models.FileMetadata{FileName: "x"}
	assert.Error(t, v.ValidatePrepareUpload(req))

	req = validRequest()
	req.Files["f2"] = models.FileMetadata{Size: 1}
	assert.Error(t, v.ValidatePrepareUpload(req), "missing fileName")

	req = validRequest()
	req.Files["f2"] = models.FileMetadata{FileName: "x", Size: -1}
	assert.Error(t, v.ValidatePrepareUpload(req), "negative size")
}

func TestValidatePrepareUploadManifestCap(t *testing.T) {
	v := NewValidator()

	req := validRequest()
	for i := 0; i < MaxFilesPerTransfer; i++ {
		req.Files[fmt.Sprintf("f%d", i)] = models.FileMetadata{FileName: "x", Size: 1}
	}
	// exactly at the cap still passes
	assert.NoError(t, v.ValidatePrepareUpload(req))

	req.Files["one-too-many"] = models.FileMetadata{FileName: "x", Size: 1}
	assert.Error(t, v.ValidatePrepareUpload(req))
}
