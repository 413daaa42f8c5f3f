// Package api is the REST client for the chat server.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/logging"
)

// ErrNotSuccessful is returned when the server answers 2xx with success=false.
var ErrNotSuccessful = errors.New("server reported failure")

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// errorBody covers both {"error": ...} and {"success": false, "message": ...}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// envelope is embedded by every response that carries a success flag.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func (e *envelope) ok() bool { return e.Success == nil || *e.Success }

func (e *envelope) reason() string { return e.Message }

type result interface {
	ok() bool
	reason() string
}

type Client struct {
	http *resty.Client
}

// New creates a client against baseURL, e.g. http://localhost:8080.
func New(baseURL string, timeout time.Duration, retries int) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetLogger(logging.RestyLogger{}).
		SetError(&errorBody{})

	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		jww.TRACE.Printf("%s %s -> %d in %s", resp.Request.Method,
			resp.Request.URL, resp.StatusCode(), resp.Time())
		return nil
	})

	return &Client{http: client}
}

// call executes a request and decodes the JSON body into out.
func (c *Client) call(ctx context.Context, method, path string,
	setup func(*resty.Request), out result) error {
	req := c.http.R().SetContext(ctx)
	if out != nil {
		req.SetResult(out)
	}
	if setup != nil {
		setup(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}

	if resp.IsError() {
		apiErr := &Error{Status: resp.StatusCode()}
		if body, ok := resp.Error().(*errorBody); ok && body != nil {
			apiErr.Message = body.Error
			if apiErr.Message == "" {
				apiErr.Message = body.Message
			}
		}
		return errors.WithStack(apiErr)
	}

	if out != nil && !out.ok() {
		return errors.Wrapf(ErrNotSuccessful, "%s %s: %s", method, path, out.reason())
	}
	return nil
}
