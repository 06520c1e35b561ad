package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/meguminnnnnnnnn/go-openai"
	. "github.com/smartystreets/goconvey/convey"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/storage/local"
)

type fakeChatModel struct {
	reply    string
	err      error
	delay    time.Duration
	received []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.received = input
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

type fakeImageProvider struct {
	data []byte
	err  error
}

func (f *fakeImageProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return f.data, f.err
}

func TestClient_CompleteText(t *testing.T) {
	Convey("CompleteText 文本补全", t, func() {
		ctx := context.Background()
		window := []Message{
			{Role: model.RoleUser, Content: "Hello"},
			{Role: model.RoleAssistant, Content: "Hi"},
			{Role: model.RoleUser, Content: "How are you?"},
		}

		Convey("消息按顺序转换为 provider 格式", func() {
			chat := &fakeChatModel{reply: "Fine, thanks"}
			client := New(chat, nil, nil, "", time.Second)

			reply, err := client.CompleteText(ctx, window)
			So(err, ShouldBeNil)
			So(reply.Role, ShouldEqual, model.RoleAssistant)
			So(reply.Content, ShouldEqual, "Fine, thanks")

			So(len(chat.received), ShouldEqual, 3)
			So(chat.received[0].Role, ShouldEqual, schema.User)
			So(chat.received[1].Role, ShouldEqual, schema.Assistant)
			So(chat.received[2].Content, ShouldEqual, "How are you?")
		})

		Convey("空回复视为上游错误", func() {
			client := New(&fakeChatModel{reply: "  "}, nil, nil, "", time.Second)
			_, err := client.CompleteText(ctx, window)
			So(errors.Is(err, ErrUpstream), ShouldBeTrue)
		})

		Convey("429 归类为限流", func() {
			chat := &fakeChatModel{err: errors.New("error, status code: 429, message: Too Many Requests")}
			client := New(chat, nil, nil, "", time.Second)
			_, err := client.CompleteText(ctx, window)
			So(errors.Is(err, ErrRateLimited), ShouldBeTrue)
		})

		Convey("超过超时时间归类为超时", func() {
			chat := &fakeChatModel{reply: "late", delay: time.Second}
			client := New(chat, nil, nil, "", 20*time.Millisecond)
			_, err := client.CompleteText(ctx, window)
			So(errors.Is(err, ErrTimeout), ShouldBeTrue)
		})

		Convey("未配置模型时返回上游错误", func() {
			client := New(nil, nil, nil, "", time.Second)
			_, err := client.CompleteText(ctx, window)
			So(errors.Is(err, ErrUpstream), ShouldBeTrue)
		})
	})
}

func TestClient_SynthesizeImage(t *testing.T) {
	Convey("SynthesizeImage 图片合成", t, func() {
		ctx := context.Background()
		basePath := t.TempDir()
		assets, err := local.NewLocalStorage(basePath, "http://localhost:8080/assets")
		So(err, ShouldBeNil)

		Convey("生成后上传并返回URL", func() {
			client := New(nil, &fakeImageProvider{data: []byte("png")}, assets, "quickgpt", time.Second)

			img, err := client.SynthesizeImage(ctx, "a cat")
			So(err, ShouldBeNil)
			So(img.URL, ShouldStartWith, "http://localhost:8080/assets/quickgpt/")
			So(img.URL, ShouldEndWith, ".png")
			So(img.URL, ShouldEqual, "http://localhost:8080/assets/"+img.Key)

			fullPath := filepath.Join(basePath, filepath.FromSlash(img.Key))
			_, err = os.Stat(fullPath)
			So(err, ShouldBeNil)

			Convey("DiscardImage 删除已上传的图片", func() {
				So(client.DiscardImage(ctx, img.Key), ShouldBeNil)
				_, err := os.Stat(fullPath)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("provider 失败时整个调用失败", func() {
			provider := &fakeImageProvider{err: &StatusError{StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}}
			client := New(nil, provider, assets, "quickgpt", time.Second)

			img, err := client.SynthesizeImage(ctx, "a cat")
			So(img, ShouldBeNil)
			So(errors.Is(err, ErrUpstream), ShouldBeTrue)
		})

		Convey("未配置 provider 时返回上游错误", func() {
			client := New(nil, nil, assets, "quickgpt", time.Second)
			_, err := client.SynthesizeImage(ctx, "a cat")
			So(errors.Is(err, ErrUpstream), ShouldBeTrue)
		})
	})
}

func TestPromptURLProvider_Generate(t *testing.T) {
	Convey("PromptURLProvider 通过 URL 生成图片", t, func() {
		var gotPath, gotQuery string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.EscapedPath()
			gotQuery = r.URL.RawQuery
			if strings.Contains(gotPath, "busy") {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			if strings.Contains(gotPath, "huge") {
				_, _ = w.Write(make([]byte, maxImageBytes+1024))
				return
			}
			_, _ = w.Write([]byte("png-bytes"))
		}))
		defer server.Close()

		provider, err := NewPromptURLProvider(server.URL+"/", "quickgpt", server.Client())
		So(err, ShouldBeNil)
		provider.now = func() time.Time { return time.UnixMilli(1700000000000) }

		Convey("请求路径包含编码后的提示词", func() {
			data, err := provider.Generate(context.Background(), "a red fox")
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "png-bytes")
			So(gotPath, ShouldEqual, "/ik-genimg-prompt-a%20red%20fox/quickgpt/1700000000000.png")
			So(gotQuery, ShouldEqual, "tr=w-800,h-800")
		})

		Convey("超过大小上限的图片不截断而是失败", func() {
			data, err := provider.Generate(context.Background(), "huge")
			So(data, ShouldBeNil)
			So(errors.Is(err, ErrUpstream), ShouldBeTrue)
			So(errors.Is(classify("synthesize image", err), ErrUpstream), ShouldBeTrue)
		})

		Convey("恰好等于上限的图片可以接受", func() {
			p := *provider
			exact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(make([]byte, maxImageBytes))
			}))
			defer exact.Close()
			p.endpoint = exact.URL

			data, err := p.Generate(context.Background(), "edge")
			So(err, ShouldBeNil)
			So(len(data), ShouldEqual, maxImageBytes)
		})

		Convey("非 200 状态返回 StatusError", func() {
			_, err := provider.Generate(context.Background(), "busy")
			var statusErr *StatusError
			So(errors.As(err, &statusErr), ShouldBeTrue)
			So(statusErr.StatusCode, ShouldEqual, http.StatusTooManyRequests)
			So(errors.Is(classify("synthesize image", err), ErrRateLimited), ShouldBeTrue)
		})
	})

	Convey("缺少 endpoint 时创建失败", t, func() {
		_, err := NewPromptURLProvider("", "", nil)
		So(err, ShouldNotBeNil)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: ErrTimeout},
		{name: "status 429", err: &StatusError{StatusCode: 429, Err: errors.New("slow down")}, want: ErrRateLimited},
		{name: "status 504", err: &StatusError{StatusCode: 504, Err: errors.New("gateway")}, want: ErrTimeout},
		{name: "throttling message", err: errors.New("Request was throttled"), want: ErrRateLimited},
		{name: "rate limit message", err: errors.New("rate limit exceeded"), want: ErrRateLimited},
		{name: "generic failure", err: errors.New("connection refused"), want: ErrUpstream},
		{name: "port containing 429", err: errors.New("dial tcp 10.0.0.7:54291: connect: connection refused"), want: ErrUpstream},
		{name: "openai api error 429", err: fmt.Errorf("failed to create chat completion: %w", &openaisdk.APIError{HTTPStatusCode: 429, Message: "quota"}), want: ErrRateLimited},
		{name: "openai request error 408", err: &openaisdk.RequestError{HTTPStatusCode: 408, Err: errors.New("timeout")}, want: ErrTimeout},
		{name: "ark api error 429", err: &arkmodel.APIError{HTTPStatusCode: 429, Message: "busy"}, want: ErrRateLimited},
		{name: "ark request error 500", err: &arkmodel.RequestError{HTTPStatusCode: 500, Err: errors.New("internal")}, want: ErrUpstream},
		{name: "status text 429", err: errors.New("error, status code: 429, status: 429 Too Many Requests"), want: ErrRateLimited},
		{name: "already classified", err: ErrTimeout, want: ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classify() lost original error %v", tt.err)
			}
		})
	}
}
