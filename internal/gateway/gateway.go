// Package gateway adapts API Gateway proxy events to an http.Handler.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// Handler is a Lambda handler for API Gateway proxy integrations.
type Handler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// NewHandler returns a Lambda handler that serves every event through h.
func NewHandler(h http.Handler, log logrus.FieldLogger) Handler {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		// Create a new http.Request from the API Gateway event
		httpReq, err := createHTTPRequest(ctx, req)
		if err != nil {
			log.WithError(err).WithField("path", req.Path).Error("failed to create HTTP request")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusBadRequest,
				Headers:    map[string]string{"Access-Control-Allow-Origin": "*"},
				Body:       "Bad request",
			}, nil
		}

		// Create a response recorder to capture Chi's response
		respRecorder := newResponseRecorder()
		h.ServeHTTP(respRecorder, httpReq)

		// Convert the captured response to an API Gateway response
		return respRecorder.toProxyResponse(), nil
	}
}

// createHTTPRequest creates an http.Request from an API Gateway event
func createHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode request body: %w", err)
		}
		body = decoded
	}

	// Determine the full request path
	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.ReplaceAll(path, "{"+param+"}", value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// Add query parameters
	query := httpReq.URL.Query()
	for param, values := range req.MultiValueQueryStringParameters {
		for _, value := range values {
			query.Add(param, value)
		}
	}
	for param, value := range req.QueryStringParameters {
		if _, ok := req.MultiValueQueryStringParameters[param]; !ok {
			query.Add(param, value)
		}
	}
	httpReq.URL.RawQuery = query.Encode()

	// Add headers
	for key, values := range req.MultiValueHeaders {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	for key, value := range req.Headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	httpReq.RemoteAddr = req.RequestContext.Identity.SourceIP
	return httpReq, nil
}

// responseRecorder captures the handler's response
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	statusCode  int
	wroteHeader bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     http.Header{},
		statusCode: http.StatusOK,
	}
}

// Header implements the http.ResponseWriter interface
func (r *responseRecorder) Header() http.Header {
	return r.header
}

// Write implements the http.ResponseWriter interface
func (r *responseRecorder) Write(body []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(body)
}

// WriteHeader implements the http.ResponseWriter interface
func (r *responseRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = statusCode
	r.wroteHeader = true
}

func (r *responseRecorder) toProxyResponse() events.APIGatewayProxyResponse {
	headers := make(map[string]string, len(r.header))
	for key := range r.header {
		headers[key] = r.header.Get(key)
	}
	return events.APIGatewayProxyResponse{
		StatusCode:        r.statusCode,
		Headers:           headers,
		MultiValueHeaders: map[string][]string(r.header.Clone()),
		Body:              r.body.String(),
	}
}
