package metrics

import (
	"strconv"
	"time"
)

// Class is the failure category of a request. Successful requests carry the
// empty class.
type Class string

const (
	ClassTimeout     Class = "timeout"
	ClassConnection  Class = "connection_error"
	ClassProtocol    Class = "protocol_error"
	ClassApplication Class = "application_error"

	httpErrorPrefix = "http_error_"
)

// HTTPError returns the class for a non-2xx status code.
func HTTPError(code int) Class {
	return Class(httpErrorPrefix + strconv.Itoa(code))
}

// Outcome is the immutable result of a single dispatched request.
type Outcome struct {
	Endpoint   string        `json:"endpoint"`
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	Class      Class         `json:"class,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
}

// Failed builds a failed outcome.
func Failed(endpoint string, latency time.Duration, class Class, status int) Outcome {
	return Outcome{Endpoint: endpoint, Latency: latency, Class: class, StatusCode: status}
}

// Succeeded builds a successful outcome.
func Succeeded(endpoint string, latency time.Duration, status int) Outcome {
	return Outcome{Endpoint: endpoint, Success: true, Latency: latency, StatusCode: status}
}
