package uploader

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"

	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultS3ContentType  = "application/octet-stream"
	envelopeContentType   = "application/json"
	defaultS3ACL          = s3.ObjectCannedACLBucketOwnerFullControl
	defaultS3PartSize     = 64 * 1024 * 1024 // 64MB per part
	s3BytesUploadedMetric = "devdiag.upload.s3.bytes"
)

// S3Backend uploads artifacts to an S3 bucket
type S3Backend struct {
	log        logrus.FieldLogger
	m          metrics.Reporter
	bucketName string
	prefix     string
	s3Uploader s3manageriface.UploaderAPI
}

// NewS3Backend creates a new instance of an S3 backend
func NewS3Backend(log logrus.FieldLogger, m metrics.Reporter, bucket, prefix, region string) (*S3Backend, error) {
	if bucket == "" {
		return nil, errors.New("no bucket specified")
	}

	cfg := &aws.Config{
		Logger: &logAdapter{log},
	}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = defaultS3PartSize
	})

	return newS3BackendWithUploader(log, m, bucket, prefix, uploader), nil
}

func newS3BackendWithUploader(log logrus.FieldLogger, m metrics.Reporter, bucket, prefix string, uploader s3manageriface.UploaderAPI) *S3Backend {
	return &S3Backend{
		log:        log,
		m:          m,
		bucketName: bucket,
		prefix:     prefix,
		s3Uploader: uploader,
	}
}

// Upload writes the file and then its envelope, so an envelope never points at a missing object
func (u *S3Backend) Upload(ctx context.Context, local, remote string, envelope []byte) error {
	key := path.Join(u.prefix, remote)
	u.log.WithField("local", local).WithField("key", key).Debug("Attempting to upload file to S3")

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer func() {
		if err = f.Close(); err != nil {
			u.log.Printf("Failed to close %s: %s", f.Name(), err)
		}
	}()

	cr := &countingReader{reader: f}
	result, err := u.s3Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		ACL:         aws.String(defaultS3ACL),
		ContentType: aws.String(defaultS3ContentType),
		Bucket:      aws.String(u.bucketName),
		Key:         aws.String(key),
		Body:        cr,
	})
	if err != nil {
		return errors.Wrapf(err, "Cannot upload %s to s3://%s/%s", local, u.bucketName, key)
	}
	u.m.Counter(s3BytesUploadedMetric, cr.bytesRead, nil)

	_, err = u.s3Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		ACL:         aws.String(defaultS3ACL),
		ContentType: aws.String(envelopeContentType),
		Bucket:      aws.String(u.bucketName),
		Key:         aws.String(EnvelopeKey(key)),
		Body:        bytes.NewReader(envelope),
	})
	if err != nil {
		return errors.Wrapf(err, "Cannot upload metadata for s3://%s/%s", u.bucketName, key)
	}

	u.log.WithField("location", result.Location).Info("Successfully uploaded file")
	return nil
}

type countingReader struct {
	reader    io.Reader
	bytesRead int
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += n
	return n, err
}

type logAdapter struct {
	log logrus.StdLogger
}

func (a *logAdapter) Log(args ...interface{}) {
	a.log.Print(args...)
}
