package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/meguminnnnnnnnn/go-openai"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

// 生成网关的失败分类，调用方通过 errors.Is 判断
var (
	ErrRateLimited = errors.New("generation provider rate limited")
	ErrTimeout     = errors.New("generation provider timed out")
	ErrUpstream    = errors.New("generation provider failed")
)

// StatusError 携带上游 HTTP 状态码的错误
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// rateLimitMarkers 没有结构化状态码时，按错误文本识别限流
var rateLimitMarkers = []string{"status code: 429", "error code: 429", "429 too many", "rate limit", "too many requests", "throttl"}

// statusCode 从 provider SDK 的错误类型中取出 HTTP 状态码
func statusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	var openaiAPIErr *openaisdk.APIError
	if errors.As(err, &openaiAPIErr) && openaiAPIErr.HTTPStatusCode > 0 {
		return openaiAPIErr.HTTPStatusCode, true
	}
	var openaiReqErr *openaisdk.RequestError
	if errors.As(err, &openaiReqErr) && openaiReqErr.HTTPStatusCode > 0 {
		return openaiReqErr.HTTPStatusCode, true
	}
	var arkAPIErr *arkmodel.APIError
	if errors.As(err, &arkAPIErr) && arkAPIErr.HTTPStatusCode > 0 {
		return arkAPIErr.HTTPStatusCode, true
	}
	var arkReqErr *arkmodel.RequestError
	if errors.As(err, &arkReqErr) && arkReqErr.HTTPStatusCode > 0 {
		return arkReqErr.HTTPStatusCode, true
	}
	return 0, false
}

// classify 将 provider 返回的错误归类为 ErrRateLimited / ErrTimeout / ErrUpstream
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstream) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}

	if code, ok := statusCode(err); ok {
		switch code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
		default:
			return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}
