package server

// UploadResponse is returned by both upload endpoints.
type UploadResponse struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

const uploadSucceeded = "File uploaded successfully"
