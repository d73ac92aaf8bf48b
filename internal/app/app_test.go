package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/partupload/internal/config"
	"github.com/stefando/partupload/internal/testutil"
	"github.com/stefando/partupload/internal/upload"
)

func testConfig() *config.Config {
	return &config.Config{
		BucketName:         "media",
		PartSize:           upload.MinPartSize,
		MultipartThreshold: upload.MinPartSize,
		Concurrency:        2,
		KeyPrefix:          "incoming",
		UploadTimeout:      0,
		MaxUploadSize:      64 << 20,
	}
}

func postFile(t *testing.T, handler http.Handler, path string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.bin")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_MultipartThroughHTTP(t *testing.T) {
	mock := &testutil.MockS3Client{
		CreateMultipartUploadFunc: func(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("u-1")}, nil
		},
		UploadPartFunc: func(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			io.Copy(io.Discard, params.Body)
			return &s3.UploadPartOutput{ETag: aws.String("\"e\"")}, nil
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler, err := NewHandler(testConfig(), mock, logger)
	require.NoError(t, err)

	rec := postFile(t, handler, "/partial_upload", make([]byte, 12<<20))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "File uploaded successfully", resp["message"])
	assert.True(t, strings.HasPrefix(resp["url"], "https://media.s3.amazonaws.com/incoming/"), resp["url"])

	assert.Equal(t, 3, mock.Calls(testutil.OpUploadPart))
	assert.Equal(t, 1, mock.Calls(testutil.OpCompleteMultipartUpload))
}

func TestNewHandler_EndpointLocator(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = "http://localhost:4566"
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler, err := NewHandler(cfg, &testutil.MockS3Client{}, logger)
	require.NoError(t, err)

	rec := postFile(t, handler, "/whole_upload", []byte("hello"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["url"], "http://localhost:4566/media/incoming/"), resp["url"])
}

func TestNewHandler_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PartSize = 1024
	_, err := NewHandler(cfg, &testutil.MockS3Client{}, logrus.New())
	assert.Error(t, err)
}
