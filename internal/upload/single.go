package upload

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/stefando/partupload/internal/s3api"
)

// CompletedObject is a durable object in the store.
type CompletedObject struct {
	Key      string
	Location string
	Size     int64
	ETag     string

	// Parts is the number of assembled parts, zero for single-pass uploads
	Parts int
}

// SinglePassUploader streams a whole file to the store with one PutObject
// call. It is used for files at or below the multipart threshold.
type SinglePassUploader struct {
	s3Client s3api.API
	bucket   string
	locate   Locator
	log      logrus.FieldLogger
}

// NewSinglePassUploader creates a single-pass uploader for bucket.
func NewSinglePassUploader(s3Client s3api.API, bucket string, locate Locator, log logrus.FieldLogger) *SinglePassUploader {
	if locate == nil {
		locate = VirtualHostLocator(bucket)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SinglePassUploader{
		s3Client: s3Client,
		bucket:   bucket,
		locate:   locate,
		log:      log,
	}
}

// Upload stores src under key.
func (u *SinglePassUploader) Upload(ctx context.Context, src Source, key string) (*CompletedObject, error) {
	size := src.Size()
	body := &readRecorder{r: io.NewSectionReader(src, 0, size)}

	// Create the S3 PutObject input
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(detectContentType(src)),
	}

	output, err := u.s3Client.PutObject(ctx, input)
	if err != nil {
		if readErr := body.readErr(); readErr != nil {
			return nil, newError("putObject", key, 0, ErrSourceRead, readErr)
		}
		return nil, newError("putObject", key, 0, ErrStoreCall, err)
	}

	u.log.WithFields(logrus.Fields{
		"key":  key,
		"size": units.HumanSize(float64(size)),
	}).Info("object uploaded in a single pass")

	return &CompletedObject{
		Key:      key,
		Location: u.locate(key),
		Size:     size,
		ETag:     aws.ToString(output.ETag),
	}, nil
}
