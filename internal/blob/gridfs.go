package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"dialysis-ledger/common/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStorage stores attachments in a MongoDB GridFS bucket.
type GridFSStorage struct {
	client     *mongo.Client
	bucket     *gridfs.Bucket
	publicBase string
}

func NewGridFSStorage(ctx context.Context, cfg *config.MongoConfig, publicBase string) (*GridFSStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	bucket, err := gridfs.NewBucket(client.Database(cfg.Database), options.GridFSBucket().SetName(cfg.Bucket))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	return &GridFSStorage{client: client, bucket: bucket, publicBase: publicBase}, nil
}

var _ Storage = (*GridFSStorage)(nil)

func (g *GridFSStorage) Upload(ctx context.Context, name, contentType string, r io.Reader) (*Object, error) {
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"content_type": contentType,
	})
	stream, err := g.bucket.OpenUploadStream(name, uploadOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(dl)
	}

	if _, err := io.Copy(stream, r); err != nil {
		_ = stream.Abort()
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	id := stream.FileID.(primitive.ObjectID).Hex()
	return &Object{ID: id, Name: name, ContentType: contentType, URL: publicURL(g.publicBase, id)}, nil
}

func (g *GridFSStorage) Open(ctx context.Context, id string) (io.ReadCloser, *Object, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	stream, err := g.bucket.OpenDownloadStream(oid)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(dl)
	}

	file := stream.GetFile()
	obj := &Object{ID: id, Name: file.Name, ContentType: "application/octet-stream", URL: publicURL(g.publicBase, id)}
	if ct, ok := file.Metadata.Lookup("content_type").StringValueOK(); ok && ct != "" {
		obj.ContentType = ct
	}
	return stream, obj, nil
}

func (g *GridFSStorage) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}
