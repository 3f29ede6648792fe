package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const docMimeType = "application/vnd.google-apps.document"

// files is the slice of the Drive API the archive needs.
type files interface {
	find(ctx context.Context, name string) (string, error)
	create(ctx context.Context, name string, media io.Reader) (string, error)
	update(ctx context.Context, id string, media io.Reader) error
}

// Archive uploads interview transcripts to a Drive folder as Google Docs,
// one document per interview. Re-archiving replaces the document body.
type Archive struct {
	files   files
	fileIDs map[string]string
	mu      sync.Mutex
}

func NewArchive(ctx context.Context, credPath, folderID string) (*Archive, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newArchive(&driveFiles{service: svc, folderID: folderID}), nil
}

func newArchive(f files) *Archive {
	return &Archive{files: f, fileIDs: make(map[string]string)}
}

// DocumentName is the Drive document title for an interview.
func DocumentName(interviewID string) string {
	return "ghost-interviewer-" + interviewID
}

func (a *Archive) Archive(ctx context.Context, interviewID, localPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	name := DocumentName(interviewID)

	fileID, ok := a.fileIDs[interviewID]
	if !ok {
		if fileID, err = a.files.find(ctx, name); err != nil {
			return fmt.Errorf("drive lookup: %w", err)
		}
	}

	if fileID != "" {
		if err := a.files.update(ctx, fileID, f); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		a.fileIDs[interviewID] = fileID
		return nil
	}

	id, err := a.files.create(ctx, name, f)
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}
	a.fileIDs[interviewID] = id
	return nil
}

type driveFiles struct {
	service  *drive.Service
	folderID string
}

func (d *driveFiles) find(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(d.folderID))
	list, err := d.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (d *driveFiles) create(ctx context.Context, name string, media io.Reader) (string, error) {
	doc, err := d.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: docMimeType,
		Parents:  []string{d.folderID},
	}).Media(media).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return doc.Id, nil
}

func (d *driveFiles) update(ctx context.Context, id string, media io.Reader) error {
	_, err := d.service.Files.Update(id, &drive.File{}).Media(media).Context(ctx).Do()
	return err
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
