// Package rpc defines the glconnect Connect services. Messages are plain Go
// structs carried by a JSON codec, so no protobuf generation is involved.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/mscno/glconnect/pkg/gitlab"
)

const (
	ProxyServiceName   = "glconnect.v1.ProxyService"
	SessionServiceName = "glconnect.v1.SessionService"

	ProxyServiceCallProcedure       = "/" + ProxyServiceName + "/Call"
	SessionServiceValidateProcedure = "/" + SessionServiceName + "/Validate"
)

// CallRequest mirrors the body of POST /api/call-gitlab. Token may instead be
// sent as a bearer Authorization header.
type CallRequest = gitlab.Request

type CallResponse struct {
	Body  json.RawMessage `json:"body,omitempty"`
	Error *gitlab.Error   `json:"error,omitempty"`
}

func NewCallResponse(res gitlab.Result) *CallResponse {
	if res.Failed() {
		return &CallResponse{Error: res.Err}
	}
	body := res.Body
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	return &CallResponse{Body: body}
}

// Result converts the response back into a proxy result.
func (r *CallResponse) Result() gitlab.Result {
	if r.Error != nil {
		return gitlab.Result{Err: r.Error}
	}
	body := r.Body
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	return gitlab.Result{Body: body}
}

type ValidateRequest struct {
	Token string `json:"token"`
}

type ValidateResponse struct {
	Valid bool         `json:"valid"`
	User  *gitlab.User `json:"user,omitempty"`
	Error string       `json:"error,omitempty"`
}

type ProxyServiceHandler interface {
	Call(context.Context, *connect.Request[CallRequest]) (*connect.Response[CallResponse], error)
}

type SessionServiceHandler interface {
	Validate(context.Context, *connect.Request[ValidateRequest]) (*connect.Response[ValidateResponse], error)
}

func NewProxyServiceHandler(svc ProxyServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	call := connect.NewUnaryHandler(ProxyServiceCallProcedure, svc.Call, opts...)
	return "/" + ProxyServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ProxyServiceCallProcedure:
			call.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func NewSessionServiceHandler(svc SessionServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	validate := connect.NewUnaryHandler(SessionServiceValidateProcedure, svc.Validate, opts...)
	return "/" + SessionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SessionServiceValidateProcedure:
			validate.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

type ProxyServiceClient struct {
	call *connect.Client[CallRequest, CallResponse]
}

func NewProxyServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ProxyServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &ProxyServiceClient{
		call: connect.NewClient[CallRequest, CallResponse](httpClient, baseURL+ProxyServiceCallProcedure, opts...),
	}
}

func (c *ProxyServiceClient) Call(ctx context.Context, req *connect.Request[CallRequest]) (*connect.Response[CallResponse], error) {
	return c.call.CallUnary(ctx, req)
}

type SessionServiceClient struct {
	validate *connect.Client[ValidateRequest, ValidateResponse]
}

func NewSessionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SessionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &SessionServiceClient{
		validate: connect.NewClient[ValidateRequest, ValidateResponse](httpClient, baseURL+SessionServiceValidateProcedure, opts...),
	}
}

func (c *SessionServiceClient) Validate(ctx context.Context, req *connect.Request[ValidateRequest]) (*connect.Response[ValidateResponse], error) {
	return c.validate.CallUnary(ctx, req)
}
