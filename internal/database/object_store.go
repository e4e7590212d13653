// internal/database/object_store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-sync/internal/store"
)

// GridFSStore keeps uploaded media in a GridFS bucket keyed by path. Public
// URLs point at the server's media route, which streams the file back.
type GridFSStore struct {
	bucket  *gridfs.Bucket
	baseURL string
}

var _ store.ObjectStore = (*GridFSStore)(nil)

func NewGridFSStore(m *MongoDB, bucketName, publicBaseURL string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(m.DB, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open media bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (o *GridFSStore) Upload(ctx context.Context, path string, data []byte) error {
	stream, err := o.bucket.OpenUploadStream(path)
	if err != nil {
		return fmt.Errorf("open upload %s: %w", path, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetWriteDeadline(deadline); err != nil {
			_ = stream.Abort()
			return err
		}
	}
	if _, err := stream.Write(data); err != nil {
		_ = stream.Abort()
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return stream.Close()
}

// PublicURL does not check that path exists; a missing object surfaces as a
// 404 from the media route.
func (o *GridFSStore) PublicURL(path string) (string, error) {
	if path == "" {
		return "", store.ErrNotFound
	}
	return store.JoinURL(o.baseURL, path), nil
}

func (o *GridFSStore) Open(ctx context.Context, path string) ([]byte, error) {
	stream, err := o.bucket.OpenDownloadStreamByName(path)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(stream)
}
