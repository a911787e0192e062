package types

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Username      string `json:"username,omitempty"`
}

type AuthURLResponse struct {
	URL string `json:"url"`
}

// DeliveryRequest sets how reports reach the user: "email" or
// "discord:<mention id>".
type DeliveryRequest struct {
	Method string `json:"method"`
}

type DeliveryResponse struct {
	Method string `json:"method"`
}

type RunRequest struct {
	TestRun bool `json:"testRun"`
}

type RunResponse struct {
	RunID string `json:"runId"`
}
