package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/partupload/internal/testutil"
)

func newTestWorker(mock *testutil.MockS3Client, partSize int64) *partWorker {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return newPartWorker(mock, testBucket, partSize, logger)
}

var testSession = &Session{Key: "k.bin", Size: 10, PartSize: 4, UploadID: "upload-1"}

func TestPartWorker_Upload(t *testing.T) {
	data := []byte("0123456789")

	var input *s3.UploadPartInput
	var body []byte
	mock := &testutil.MockS3Client{
		UploadPartFunc: func(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			input = params
			b, err := io.ReadAll(params.Body)
			if err != nil {
				return nil, err
			}
			body = b
			return &s3.UploadPartOutput{ETag: aws.String("\"abc\"")}, nil
		},
	}

	w := newTestWorker(mock, 4)
	result := w.upload(context.Background(), testSession, PartSpec{Number: 2, Offset: 4, Length: 4}, NewBytesSource(data))

	require.NoError(t, result.Err)
	assert.Equal(t, int32(2), result.Number)
	assert.Equal(t, "\"abc\"", result.ETag)

	require.NotNil(t, input)
	assert.Equal(t, []byte("4567"), body)
	assert.Equal(t, testBucket, aws.ToString(input.Bucket))
	assert.Equal(t, "k.bin", aws.ToString(input.Key))
	assert.Equal(t, "upload-1", aws.ToString(input.UploadId))
	assert.Equal(t, int32(2), aws.ToInt32(input.PartNumber))
	assert.Equal(t, int64(4), aws.ToInt64(input.ContentLength))

	digest := md5.Sum([]byte("4567"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(digest[:]), aws.ToString(input.ContentMD5))
}

func TestPartWorker_LastPartShorterThanBuffer(t *testing.T) {
	var body []byte
	mock := &testutil.MockS3Client{
		UploadPartFunc: func(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			body, _ = io.ReadAll(params.Body)
			return &s3.UploadPartOutput{ETag: aws.String("\"x\"")}, nil
		},
	}

	w := newTestWorker(mock, 4)
	result := w.upload(context.Background(), testSession, PartSpec{Number: 3, Offset: 8, Length: 2}, NewBytesSource([]byte("0123456789")))
	require.NoError(t, result.Err)
	assert.Equal(t, []byte("89"), body)
}

func TestPartWorker_Failures(t *testing.T) {
	okStore := func(_ context.Context, _ *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
		return &s3.UploadPartOutput{ETag: aws.String("\"x\"")}, nil
	}

	tests := []struct {
		name        string
		src         Source
		uploadPart  func(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error)
		wantKind    error
		wantUploads int
	}{
		{
			name:        "short source",
			src:         NewSource(bytes.NewReader([]byte("012345")), 10),
			uploadPart:  okStore,
			wantKind:    ErrShortPart,
			wantUploads: 0,
		},
		{
			name:        "read error",
			src:         NewSource(failingReaderAt{data: []byte("0123456789"), failFrom: 0}, 10),
			uploadPart:  okStore,
			wantKind:    ErrSourceRead,
			wantUploads: 0,
		},
		{
			name: "store rejects part",
			src:  NewBytesSource([]byte("0123456789")),
			uploadPart: func(_ context.Context, _ *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
				return nil, errors.New("internal error")
			},
			wantKind:    ErrStoreCall,
			wantUploads: 1,
		},
		{
			name: "store returns no ETag",
			src:  NewBytesSource([]byte("0123456789")),
			uploadPart: func(_ context.Context, _ *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
				return &s3.UploadPartOutput{}, nil
			},
			wantKind:    ErrStoreCall,
			wantUploads: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &testutil.MockS3Client{UploadPartFunc: tt.uploadPart}
			w := newTestWorker(mock, 4)

			result := w.upload(context.Background(), testSession, PartSpec{Number: 3, Offset: 8, Length: 2}, tt.src)
			require.Error(t, result.Err)
			assert.ErrorIs(t, result.Err, tt.wantKind)
			assert.Equal(t, int32(3), result.Number)
			assert.Empty(t, result.ETag)

			var upErr *Error
			require.ErrorAs(t, result.Err, &upErr)
			assert.Equal(t, int32(3), upErr.Part)
			assert.Equal(t, "k.bin", upErr.Key)
			assert.Equal(t, tt.wantUploads, mock.Calls(testutil.OpUploadPart))
		})
	}
}

func TestPartWorker_CanceledContext(t *testing.T) {
	mock := &testutil.MockS3Client{}
	w := newTestWorker(mock, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := w.upload(ctx, testSession, PartSpec{Number: 1, Offset: 0, Length: 4}, NewBytesSource([]byte("0123456789")))
	assert.ErrorIs(t, result.Err, ErrCanceled)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 0, mock.TotalCalls())
}

func TestPartWorker_FailedCallKeepsBodyIntact(t *testing.T) {
	var retained io.Reader
	mock := &testutil.MockS3Client{
		UploadPartFunc: func(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			if retained == nil {
				// Leave the body unread, as a transport still sending it would
				retained = params.Body
				return nil, errors.New("connection reset by peer")
			}
			_, err := io.Copy(io.Discard, params.Body)
			require.NoError(t, err)
			return &s3.UploadPartOutput{ETag: aws.String("\"ok\"")}, nil
		},
	}

	w := newTestWorker(mock, 4)
	failed := w.upload(context.Background(), testSession, PartSpec{Number: 1, Offset: 0, Length: 4}, NewBytesSource([]byte("0123")))
	require.ErrorIs(t, failed.Err, ErrStoreCall)

	ok := w.upload(context.Background(), testSession, PartSpec{Number: 1, Offset: 0, Length: 4}, NewBytesSource([]byte("wxyz")))
	require.NoError(t, ok.Err)

	require.NotNil(t, retained)
	body, err := io.ReadAll(retained)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), body)
}
