package common

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// EntityPath is the only resource served by a node
	EntityPath = "/v0/entity"
	// IDParam is the query parameter holding the key
	IDParam = "id"
	// ForwardedHeader marks a request that was forwarded by another node.
	// A forwarded request is always served by the receiving node.
	ForwardedHeader = "X-Dht-Forwarded"
)

// --------------------------------------------------------------------------
// Request / Response
// --------------------------------------------------------------------------

// Request is a decoded inbound request, independent of the transport
type Request struct {
	Method    string
	Path      string
	Params    url.Values
	Body      []byte
	Forwarded bool
}

// ID returns the key of the request. The boolean is false if the id
// parameter is missing or blank.
func (r *Request) ID() (string, bool) {
	if r.Params == nil {
		return "", false
	}
	id := r.Params.Get(IDParam)
	if strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// NewEntityRequest creates a request for the entity resource
func NewEntityRequest(method, id string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   EntityPath,
		Params: url.Values{IDParam: []string{id}},
		Body:   body,
	}
}

// Response is the status and body returned for a request
type Response struct {
	Status int
	Body   []byte
}

// NewResponse creates a response without body
func NewResponse(status int) Response {
	return Response{Status: status}
}

// NewTextResponse creates a response with a plain text body
func NewTextResponse(status int, format string, args ...interface{}) Response {
	return Response{Status: status, Body: []byte(fmt.Sprintf(format, args...))}
}

// ResponseSink receives the response of a request.
// Only the first Send has an effect, later calls are ignored.
type ResponseSink interface {
	Send(resp Response)
}

// --------------------------------------------------------------------------
// Failure Kinds
// --------------------------------------------------------------------------

// FailureKind classifies the failures of the data path
type FailureKind int

const (
	FailureInternal    FailureKind = iota // unexpected internal fault
	FailureStorage                        // the storage engine failed
	FailureBadAddress                     // the target address of a forward is malformed
	FailureUnreachable                    // the target of a forward could not be reached in time
	FailureInterrupted                    // the wait for a forward was interrupted
	FailureRejected                       // the work queue is full
)

func (k FailureKind) String() string {
	switch k {
	case FailureInternal:
		return "internal"
	case FailureStorage:
		return "storage"
	case FailureBadAddress:
		return "bad address"
	case FailureUnreachable:
		return "unreachable"
	case FailureInterrupted:
		return "interrupted"
	case FailureRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Status returns the response status for a failure of this kind
func (k FailureKind) Status() int {
	switch k {
	case FailureBadAddress:
		return http.StatusBadGateway
	case FailureUnreachable:
		return http.StatusGatewayTimeout
	case FailureRejected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is an error of a known failure kind
type Error struct {
	Kind FailureKind
	Err  error
}

// NewError wraps err with the failure kind
func NewError(kind FailureKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf creates an error of the failure kind with a formatted message
func Errorf(kind FailureKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err. Errors without a kind are internal.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return FailureInternal
}
