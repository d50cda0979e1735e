package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/noah-isme/paper-repository-api/pkg/config"
)

// GridFSStorage keeps paper binaries in a MongoDB GridFS bucket.
type GridFSStorage struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

// NewGridFSStorage connects to MongoDB and opens the configured bucket.
func NewGridFSStorage(ctx context.Context, cfg config.MongoConfig) (*GridFSStorage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	bucketName := cfg.Bucket
	if bucketName == "" {
		bucketName = "papers"
	}
	bucket, err := gridfs.NewBucket(client.Database(cfg.Database), options.GridFSBucket().SetName(bucketName))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSStorage{client: client, bucket: bucket}, nil
}

// Put uploads r as a new GridFS file and returns its ObjectID in hex form.
func (s *GridFSStorage) Put(ctx context.Context, filename, contentType string, r io.Reader) (BlobInfo, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return BlobInfo{}, fmt.Errorf("set gridfs deadline: %w", err)
		}
	}
	counter := &countingReader{r: r}
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})
	id, err := s.bucket.UploadFromStream(filename, counter, opts)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("upload to gridfs: %w", err)
	}
	return BlobInfo{ID: id.Hex(), Size: counter.n}, nil
}

// Open returns a download stream for the file with the given hex id.
func (s *GridFSStorage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrBlobNotFound
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set gridfs deadline: %w", err)
		}
	}
	stream, err := s.bucket.OpenDownloadStream(oid)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open gridfs stream: %w", err)
	}
	return stream, nil
}

// Delete removes the file and its chunks.
func (s *GridFSStorage) Delete(_ context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrBlobNotFound
	}
	if err := s.bucket.Delete(oid); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete gridfs file: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *GridFSStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
