package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// FileLocator resolves a Telegram file id to a download URL.
// *tgbotapi.BotAPI implements it.
type FileLocator interface {
	GetFileDirectURL(fileID string) (string, error)
}

// FileService copies proof attachments into docDir. Both bots read the
// stored files, so docDir has to be shared between them.
type FileService struct {
	locator FileLocator
	client  *http.Client
	docDir  string
}

func NewFileService(locator FileLocator, docDir string) (*FileService, error) {
	if err := os.MkdirAll(docDir, 0755); err != nil {
		return nil, fmt.Errorf("FileService: cannot create dir %s: %w", docDir, err)
	}

	return &FileService{
		locator: locator,
		client:  http.DefaultClient,
		docDir:  docDir,
	}, nil
}

// SaveFile downloads fileID and returns the local path it was stored under.
func (fs *FileService) SaveFile(ctx context.Context, fileID string) (string, error) {
	link, err := fs.locator.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("FileService.SaveFile: cannot get file: %w", err)
	}

	fileExt := ".jpg"
	if u, err := url.Parse(link); err == nil && path.Ext(u.Path) != "" {
		fileExt = path.Ext(u.Path)
	}

	fileName := fmt.Sprintf("%s%s", uuid.New().String(), fileExt)
	filePath := filepath.Join(fs.docDir, fileName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("FileService.SaveFile: %w", err)
	}

	resp, err := fs.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("FileService.SaveFile: cannot download file: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("FileService.SaveFile: cannot download file: status %d", resp.StatusCode)
	}

	out, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("FileService.SaveFile: cannot create file: %w", err)
	}

	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	if err != nil {
		_ = os.Remove(filePath)
		return "", fmt.Errorf("FileService.SaveFile: cannot save file: %w", err)
	}

	return filePath, nil
}

func (fs *FileService) DeleteFile(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("FileService.DeleteFile: %w", err)
	}

	return nil
}
