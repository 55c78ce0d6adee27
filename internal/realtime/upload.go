package realtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/inflight/internal/txerr"
)

// FileUploader uploads attachments from local disk over a Channel.
type FileUploader struct {
	Channel Channel
}

// Upload reads the file at path and sends it with uploadFile, returning the
// server file id. An unreadable file is a terminal validation error.
func (u FileUploader) Upload(ctx context.Context, path, mimeType string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, txerr.FromCode(txerr.CodeBadRequest, fmt.Sprintf("read attachment: %v", err))
	}

	res, err := u.Channel.Invoke(ctx, MethodUploadFile, UploadFileInput{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	})
	if err != nil {
		return 0, err
	}
	if res.FileID == 0 {
		return 0, txerr.Transport(txerr.CodeInternal, "upload returned no file id")
	}
	return res.FileID, nil
}
