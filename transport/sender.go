package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	goerrors "github.com/goliatone/go-errors"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

const (
	defaultRequestTimeout          = 10 * time.Second
	defaultResponseBodyLimit int64 = 64 << 10 // 64 KiB
	drainLimit               int64 = 256 << 10
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender POSTs webhook payloads. Only a missing response is reported as
// an error; every status code is returned to the caller for classification.
type HTTPSender struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	DefaultTimeout       time.Duration
}

func NewHTTPSender(client HTTPDoer) *HTTPSender {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &HTTPSender{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		DefaultTimeout:       defaultRequestTimeout,
	}
}

func (s *HTTPSender) Send(ctx context.Context, req core.DeliveryRequest) (core.DeliveryResponse, error) {
	if s == nil || s.Client == nil {
		return core.DeliveryResponse{}, transportError(
			"transport: http sender requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"job_id": req.JobID.String()},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target := strings.TrimSpace(req.TargetURL)
	if err := core.ValidateTargetURL(target, false); err != nil {
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid target url",
			http.StatusBadRequest,
			map[string]any{"job_id": req.JobID.String(), "url": target},
		)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.DefaultTimeout
	}
	requestCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, target, bytes.NewReader(req.Payload))
	if err != nil {
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"job_id": req.JobID.String(), "url": target},
		)
	}
	for key, value := range s.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	startedAt := time.Now()
	httpRes, err := s.Client.Do(httpReq)
	if err != nil {
		return core.DeliveryResponse{Duration: time.Since(startedAt)}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"job_id": req.JobID.String(), "url": target},
		)
	}
	defer httpRes.Body.Close()

	limit := s.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	// a body read failure still leaves a usable status code
	body, _ := io.ReadAll(io.LimitReader(httpRes.Body, limit))
	_, _ = io.Copy(io.Discard, io.LimitReader(httpRes.Body, drainLimit))

	return core.DeliveryResponse{
		StatusCode: httpRes.StatusCode,
		Header:     httpRes.Header.Clone(),
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

var _ core.Sender = (*HTTPSender)(nil)
