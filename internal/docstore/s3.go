package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
)

// S3 stores each document as one object in an S3-compatible bucket, key
// "<collection>/<id>.json" - the object-storage counterpart to Local.
type S3 struct {
	client *minio.Client
	bucket string
}

var _ Backend = (*S3)(nil)

// S3Config is the connection configuration for the S3 driver.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewS3 opens a minio client against cfg.Endpoint and verifies the target
// bucket exists.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: logging.NewLoggingTransport(nil),
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating s3 client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "checking bucket")
	}
	if !exists {
		return nil, errors.Fatalf("s3 bucket %q does not exist", cfg.Bucket)
	}

	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) key(h Handle) string {
	return h.Collection + "/" + h.ID + ".json"
}

func (s *S3) Get(ctx context.Context, h Handle) (Doc, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, errors.Wrapf(err, "opening %s", s.key(h))
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "reading %s", s.key(h))
	}

	var doc Doc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, false, errors.Wrapf(err, "decoding %s", s.key(h))
	}
	return doc, true, nil
}

func (s *S3) Set(ctx context.Context, h Handle, doc Doc) error {
	return s.putOne(ctx, h, doc)
}

func (s *S3) Batch(ctx context.Context, ws []Write) error {
	for _, w := range ws {
		if err := s.putOne(ctx, w.Handle, w.Doc); err != nil {
			return errors.Wrapf(err, "batch write of %s", s.key(w.Handle))
		}
	}
	return nil
}

func (s *S3) putOne(ctx context.Context, h Handle, doc Doc) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.key(h), bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return errors.Wrap(err, "putting object")
	}
	return nil
}

func (s *S3) List(ctx context.Context, collection string) ([]Doc, error) {
	var docs []Doc
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: collection + "/"}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, "listing objects")
		}

		o, err := s.client.GetObject(ctx, s.bucket, obj.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", obj.Key)
		}
		b, err := io.ReadAll(o)
		o.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", obj.Key)
		}

		var doc Doc
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", obj.Key)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *S3) Close() error {
	return nil
}
