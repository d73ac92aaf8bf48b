package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/stefando/partupload/internal/s3api"
)

// Session identifies one multipart upload in the store.
type Session struct {
	Key      string
	Size     int64
	PartSize int64
	UploadID string
}

// PartResult is the outcome of uploading one PartSpec. Exactly one of ETag
// and Err is set.
type PartResult struct {
	Number int32
	ETag   string
	Err    error
}

// partWorker uploads single parts. Buffers are pooled per part size so at
// most one buffer per running worker is alive. A buffer only returns to the
// pool once no request body can reference it.
type partWorker struct {
	s3Client s3api.API
	bucket   string
	buffers  sync.Pool
	log      logrus.FieldLogger
}

func newPartWorker(s3Client s3api.API, bucket string, partSize int64, log logrus.FieldLogger) *partWorker {
	return &partWorker{
		s3Client: s3Client,
		bucket:   bucket,
		buffers: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, partSize)
				return &buf
			},
		},
		log: log,
	}
}

// upload reads the part's byte range and issues exactly one UploadPart call.
// Failures are reported in the result, never returned or retried.
func (w *partWorker) upload(ctx context.Context, session *Session, spec PartSpec, src Source) PartResult {
	fail := func(kind, err error) PartResult {
		return PartResult{
			Number: spec.Number,
			Err:    newError("uploadPart", session.Key, spec.Number, kind, err),
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(ErrCanceled, context.Cause(ctx))
	}

	bufPtr := w.buffers.Get().(*[]byte)
	if int64(cap(*bufPtr)) < spec.Length {
		*bufPtr = make([]byte, spec.Length)
	}
	buf := (*bufPtr)[:spec.Length]

	// Positioned read of exactly this part's range
	n, err := io.ReadFull(io.NewSectionReader(src, spec.Offset, spec.Length), buf)
	if err != nil {
		w.buffers.Put(bufPtr)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fail(ErrShortPart, fmt.Errorf("read %d of %d bytes at offset %d", n, spec.Length, spec.Offset))
	}
	if err != nil {
		return fail(ErrSourceRead, err)
	}

	digest := md5.Sum(buf)
	output, err := w.s3Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(session.Key),
		UploadId:      aws.String(session.UploadID),
		PartNumber:    aws.Int32(spec.Number),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(spec.Length),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(digest[:])),
	})
	if err != nil {
		// The transport may still be reading a failed request's body, so
		// the buffer is left to the garbage collector.
		return fail(ErrStoreCall, err)
	}
	w.buffers.Put(bufPtr)

	etag := aws.ToString(output.ETag)
	if etag == "" {
		return fail(ErrStoreCall, errors.New("store returned no ETag"))
	}

	w.log.WithFields(logrus.Fields{
		"key":         session.Key,
		"upload_id":   session.UploadID,
		"part_number": spec.Number,
		"size":        spec.Length,
	}).Debug("part uploaded")

	return PartResult{Number: spec.Number, ETag: etag}
}
