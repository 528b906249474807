package models

// PredictResponse is the JSON body returned by the prediction service.
// Either field may be absent; an empty string counts as absent.
type PredictResponse struct {
	Prediction string `json:"prediction,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StateResponse mirrors the rendered form state for JSON clients
type StateResponse struct {
	ShowUploadPrompt bool   `json:"show_upload_prompt"`
	ImageName        string `json:"image_name,omitempty"`
	PreviewURL       string `json:"preview_url,omitempty"`
	DetectDisabled   bool   `json:"detect_disabled"`
	Loading          bool   `json:"loading"`
	Prediction       string `json:"prediction,omitempty"`
	Error            string `json:"error,omitempty"`
}
