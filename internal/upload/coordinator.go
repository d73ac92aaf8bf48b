// Package upload stores files in S3, splitting large files into parts that
// are uploaded concurrently and assembled into a single object.
//
// A multipart upload either completes with every part in ascending order or
// is aborted; the coordinator never completes a session with a failed or
// missing part, and it always releases the store-side session on failure.
package upload

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stefando/partupload/internal/s3api"
)

const (
	// DefaultConcurrency is the number of parts uploaded at once
	DefaultConcurrency = 5

	// DefaultAbortTimeout bounds the abort call issued after a failure
	DefaultAbortTimeout = 30 * time.Second
)

// Options configures a Coordinator.
type Options struct {
	Bucket string

	// PartSize is the size of every part except the last (default 5 MiB)
	PartSize int64

	// Threshold is the largest size uploaded in a single pass (default PartSize)
	Threshold int64

	// Concurrency limits the number of in-flight part uploads
	Concurrency int

	// VerifyParts cross-checks the store's part list before completing
	VerifyParts bool

	AbortTimeout time.Duration
	Keys         KeyGenerator
	Locator      Locator
	Logger       logrus.FieldLogger
}

// Coordinator drives multipart uploads against the store.
type Coordinator struct {
	s3Client     s3api.API
	bucket       string
	partSize     int64
	threshold    int64
	concurrency  int
	verifyParts  bool
	abortTimeout time.Duration
	keys         KeyGenerator
	locate       Locator
	worker       *partWorker
	single       *SinglePassUploader
	log          logrus.FieldLogger
}

// NewCoordinator creates a Coordinator, filling unset options with defaults.
func NewCoordinator(s3Client s3api.API, opts Options) (*Coordinator, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket name cannot be empty")
	}
	if opts.PartSize == 0 {
		opts.PartSize = DefaultPartSize
	}
	if opts.PartSize < MinPartSize {
		return nil, fmt.Errorf("part size %s is below the %s minimum: %w",
			units.BytesSize(float64(opts.PartSize)), units.BytesSize(float64(MinPartSize)), ErrInvalidPartSize)
	}
	if opts.Threshold < 0 {
		return nil, fmt.Errorf("multipart threshold cannot be negative")
	}
	if opts.Threshold == 0 {
		opts.Threshold = opts.PartSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = DefaultAbortTimeout
	}
	if opts.Keys == nil {
		opts.Keys = NewKeyGenerator("", false)
	}
	if opts.Locator == nil {
		opts.Locator = VirtualHostLocator(opts.Bucket)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Coordinator{
		s3Client:     s3Client,
		bucket:       opts.Bucket,
		partSize:     opts.PartSize,
		threshold:    opts.Threshold,
		concurrency:  opts.Concurrency,
		verifyParts:  opts.VerifyParts,
		abortTimeout: opts.AbortTimeout,
		keys:         opts.Keys,
		locate:       opts.Locator,
		worker:       newPartWorker(s3Client, opts.Bucket, opts.PartSize, opts.Logger),
		single:       NewSinglePassUploader(s3Client, opts.Bucket, opts.Locator, opts.Logger),
		log:          opts.Logger,
	}, nil
}

// Upload stores src under a freshly generated key derived from filename.
// Files at or below the threshold go through a single PutObject; larger
// files are uploaded in parts.
func (c *Coordinator) Upload(ctx context.Context, src Source, filename string) (*CompletedObject, error) {
	if err := checkSize(src, filename); err != nil {
		return nil, err
	}

	key := c.keys(filename)
	if src.Size() <= c.threshold {
		return c.single.Upload(ctx, src, key)
	}
	return c.uploadMultipart(ctx, src, key)
}

// UploadWhole stores src with a single PutObject regardless of its size.
func (c *Coordinator) UploadWhole(ctx context.Context, src Source, filename string) (*CompletedObject, error) {
	if err := checkSize(src, filename); err != nil {
		return nil, err
	}
	return c.single.Upload(ctx, src, c.keys(filename))
}

func checkSize(src Source, filename string) error {
	if src == nil || src.Size() <= 0 {
		return newError("upload", "", 0, ErrEmptySource, fmt.Errorf("%q contains no data", filename))
	}
	return nil
}

func (c *Coordinator) uploadMultipart(ctx context.Context, src Source, key string) (*CompletedObject, error) {
	log := c.log.WithField("key", key)

	// Planning is pure, so an unplannable file never opens a session
	parts, err := PlanParts(src.Size(), c.partSize)
	if err != nil {
		return nil, fmt.Errorf("failed to plan parts for %s: %w", key, err)
	}

	// Initiate multipart upload
	createResp, err := c.s3Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(detectContentType(src)),
	})
	if err != nil {
		return nil, newError("createMultipartUpload", key, 0, ErrStoreCall, err)
	}
	if aws.ToString(createResp.UploadId) == "" {
		return nil, newError("createMultipartUpload", key, 0, ErrStoreCall, errors.New("store returned no upload ID"))
	}

	session := &Session{
		Key:      key,
		Size:     src.Size(),
		PartSize: c.partSize,
		UploadID: aws.ToString(createResp.UploadId),
	}
	log = log.WithField("upload_id", session.UploadID)

	log.WithFields(logrus.Fields{
		"size":  units.HumanSize(float64(session.Size)),
		"parts": len(parts),
	}).Info("multipart upload started")

	results, err := c.uploadParts(ctx, session, parts, src)
	if err != nil {
		log.WithError(err).Warn("aborting multipart upload due to part failure")
		c.abort(ctx, session, log)
		return nil, err
	}

	completed, err := c.complete(ctx, session, results)
	if err != nil {
		log.WithError(err).Warn("aborting multipart upload due to completion failure")
		c.abort(ctx, session, log)
		return nil, err
	}

	log.WithField("parts", completed.Parts).Info("multipart upload completed")
	return completed, nil
}

// uploadParts runs one worker per part on a bounded pool and waits for all
// of them. The first failure cancels the remaining workers; the returned
// error is that first observed failure.
func (c *Coordinator) uploadParts(ctx context.Context, session *Session, parts []PartSpec, src Source) ([]PartResult, error) {
	results := make([]PartResult, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, spec := range parts {
		g.Go(func() error {
			results[i] = c.worker.upload(gctx, session, spec, src)
			return results[i].Err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// complete assembles the parts in ascending part number order.
func (c *Coordinator) complete(ctx context.Context, session *Session, results []PartResult) (*CompletedObject, error) {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b PartResult) int {
		return cmp.Compare(a.Number, b.Number)
	})

	if c.verifyParts {
		if err := c.checkStoredParts(ctx, session, sorted); err != nil {
			return nil, err
		}
	}

	completedParts := lo.Map(sorted, func(r PartResult, _ int) types.CompletedPart {
		return types.CompletedPart{
			ETag:       aws.String(r.ETag),
			PartNumber: aws.Int32(r.Number),
		}
	})

	output, err := c.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return nil, newError("completeMultipartUpload", session.Key, 0, completionFailureKind(err), err)
	}

	return &CompletedObject{
		Key:      session.Key,
		Location: c.locate(session.Key),
		Size:     session.Size,
		ETag:     aws.ToString(output.ETag),
		Parts:    len(sorted),
	}, nil
}

// checkStoredParts compares the store's view of the session with the
// collected results: same part numbers, same ETags.
func (c *Coordinator) checkStoredParts(ctx context.Context, session *Session, results []PartResult) error {
	stored := make(map[int32]string, len(results))

	paginator := s3.NewListPartsPaginator(c.s3Client, &s3.ListPartsInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return newError("listParts", session.Key, 0, ErrStoreCall, err)
		}
		for _, part := range page.Parts {
			stored[aws.ToInt32(part.PartNumber)] = aws.ToString(part.ETag)
		}
	}

	mismatched := lo.Filter(results, func(r PartResult, _ int) bool {
		return stored[r.Number] != r.ETag
	})
	if len(mismatched) > 0 {
		return newError("listParts", session.Key, mismatched[0].Number, ErrAssembly,
			fmt.Errorf("store has ETag %q, uploaded %q", stored[mismatched[0].Number], mismatched[0].ETag))
	}
	if len(stored) != len(results) {
		return newError("listParts", session.Key, 0, ErrAssembly,
			fmt.Errorf("store lists %d parts, uploaded %d", len(stored), len(results)))
	}
	return nil
}

// abort releases the store-side session. It runs detached from the caller's
// cancellation so a timed-out request still cleans up.
func (c *Coordinator) abort(ctx context.Context, session *Session, log logrus.FieldLogger) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.abortTimeout)
	defer cancel()

	_, err := c.s3Client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})
	if err != nil {
		log.WithError(err).Error("failed to abort multipart upload")
		return
	}
	log.Info("multipart upload aborted")
}
