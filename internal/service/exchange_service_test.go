package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"quickgpt/internal/ai"
	"quickgpt/internal/config"
	"quickgpt/internal/model"
	"quickgpt/internal/repository"
	"quickgpt/internal/repository/memory"
)

type fakeGenerator struct {
	mu        sync.Mutex
	reply     string
	imageURL  string
	err       error
	windows   [][]ai.Message
	prompts   []string
	discarded []string
}

func (f *fakeGenerator) CompleteText(ctx context.Context, window []ai.Message) (*ai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, window)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Message{Role: model.RoleAssistant, Content: f.reply}, nil
}

func (f *fakeGenerator) SynthesizeImage(ctx context.Context, prompt string) (*ai.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Image{Key: "quickgpt/1.png", URL: f.imageURL}, nil
}

func (f *fakeGenerator) DiscardImage(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, key)
	return nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows) + len(f.prompts)
}

type failingConvStore struct {
	*memory.ConversationStore
}

func (s *failingConvStore) AppendAndSave(ctx context.Context, conv *model.Conversation, turns ...model.Turn) (*model.Conversation, error) {
	return nil, errors.New("write concern timeout")
}

// deletingConvStore 在提交前删除对话
type deletingConvStore struct {
	*memory.ConversationStore
}

func (s *deletingConvStore) AppendAndSave(ctx context.Context, conv *model.Conversation, turns ...model.Turn) (*model.Conversation, error) {
	if err := s.Delete(ctx, conv.UserID, conv.ID.Hex()); err != nil {
		return nil, err
	}
	return s.ConversationStore.AppendAndSave(ctx, conv, turns...)
}

type failingLedger struct {
	*memory.UserStore
}

func (l *failingLedger) Debit(ctx context.Context, userID string, cost int64) error {
	return repository.ErrInsufficientCredit
}

// renamingConvStore 在提交前插入一次重命名，模拟并发的 PATCH 请求
type renamingConvStore struct {
	*memory.ConversationStore
	title  string
	staged []*model.Conversation
}

func (s *renamingConvStore) AppendAndSave(ctx context.Context, conv *model.Conversation, turns ...model.Turn) (*model.Conversation, error) {
	s.staged = append(s.staged, conv.Clone())
	if err := s.Rename(ctx, conv.UserID, conv.ID.Hex(), s.title); err != nil {
		return nil, err
	}
	return s.ConversationStore.AppendAndSave(ctx, conv, turns...)
}

type recordingCache struct {
	mu     sync.Mutex
	stored []*model.Conversation
}

func (c *recordingCache) StoreConversation(ctx context.Context, conv *model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = append(c.stored, conv.Clone())
	return nil
}

type prefixTitler struct{}

func (prefixTitler) Title(prompt string) string {
	return "T: " + prompt
}

var testExchangeConfig = config.ExchangeConfig{
	HistoryWindow: 8,
	TextCost:      1,
	ImageCost:     2,
}

type fixture struct {
	convs  *memory.ConversationStore
	users  *memory.UserStore
	gen    *fakeGenerator
	svc    *ExchangeService
	chatID string
}

func newFixture(credits int64) *fixture {
	ctx := context.Background()
	convs := memory.NewConversationStore()
	users := memory.NewUserStore()
	_ = users.Create(ctx, &model.User{ID: "u1", Name: "Alice", Credits: credits})

	conv := &model.Conversation{UserID: "u1", UserName: "Alice"}
	_ = convs.Create(ctx, conv)

	gen := &fakeGenerator{reply: "Hi there", imageURL: "https://cdn.example.com/quickgpt/1.png"}
	return &fixture{
		convs:  convs,
		users:  users,
		gen:    gen,
		svc:    NewExchangeService(convs, users, gen, testExchangeConfig),
		chatID: conv.ID.Hex(),
	}
}

func (f *fixture) turns() []model.Turn {
	conv, err := f.convs.Load(context.Background(), "u1", f.chatID)
	So(err, ShouldBeNil)
	return conv.Messages
}

func (f *fixture) balance() int64 {
	b, err := f.users.Balance(context.Background(), "u1")
	So(err, ShouldBeNil)
	return b
}

func TestExchangeService_SendText(t *testing.T) {
	Convey("文本消息交换", t, func() {
		ctx := context.Background()

		Convey("余额不足时拒绝，无副作用", func() {
			f := newFixture(0)
			res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})

			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, model.ReasonInsufficientCredit)
			So(f.balance(), ShouldEqual, 0)
			So(len(f.turns()), ShouldEqual, 0)
			So(f.gen.calls(), ShouldEqual, 0)
		})

		Convey("成功时扣 1 额度，追加用户和助手两条消息", func() {
			f := newFixture(5)
			res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})

			So(res.Success, ShouldBeTrue)
			So(res.Unbilled, ShouldBeFalse)
			So(res.Reply.Role, ShouldEqual, model.RoleAssistant)
			So(res.Reply.Content, ShouldEqual, "Hi there")
			So(f.balance(), ShouldEqual, 4)

			turns := f.turns()
			So(len(turns), ShouldEqual, 2)
			So(turns[0].Role, ShouldEqual, model.RoleUser)
			So(turns[0].Content, ShouldEqual, "Hello")
			So(turns[0].IsImage, ShouldBeFalse)
			So(turns[1].Role, ShouldEqual, model.RoleAssistant)
			So(turns[1].IsImage, ShouldBeFalse)
		})

		Convey("对话不存在时先于额度检查失败", func() {
			f := newFixture(0)

			res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: "000000000000000000000000", Prompt: "Hello"})
			So(res.Reason, ShouldEqual, model.ReasonNotFound)

			res = f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: "not-an-id", Prompt: "Hello"})
			So(res.Reason, ShouldEqual, model.ReasonNotFound)
		})

		Convey("不能访问其他用户的对话", func() {
			f := newFixture(5)
			_ = f.users.Create(ctx, &model.User{ID: "u2", Credits: 5})

			res := f.svc.SendText(ctx, "u2", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
			So(res.Reason, ShouldEqual, model.ReasonNotFound)
			So(len(f.turns()), ShouldEqual, 0)
		})

		Convey("生成失败时不保存也不扣费", func() {
			cases := []struct {
				err    error
				reason model.FailureReason
			}{
				{err: fmt.Errorf("complete text: %w", ai.ErrUpstream), reason: model.ReasonUpstreamError},
				{err: fmt.Errorf("complete text: %w", ai.ErrRateLimited), reason: model.ReasonRateLimited},
				{err: fmt.Errorf("complete text: %w", ai.ErrTimeout), reason: model.ReasonTimeout},
				{err: errors.New("unclassified"), reason: model.ReasonUpstreamError},
			}

			for _, c := range cases {
				f := newFixture(5)
				f.gen.err = c.err

				res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
				So(res.Success, ShouldBeFalse)
				So(res.Reason, ShouldEqual, c.reason)
				So(res.Reply, ShouldBeNil)
				So(f.balance(), ShouldEqual, 5)
				So(len(f.turns()), ShouldEqual, 0)
			}
		})

		Convey("发送给模型的历史窗口不超过 8 条", func() {
			f := newFixture(5)
			conv, err := f.convs.Load(ctx, "u1", f.chatID)
			So(err, ShouldBeNil)
			for i := 0; i < 25; i++ {
				_, err := f.convs.AppendAndSave(ctx, conv,
					model.Turn{Role: model.RoleUser, Content: fmt.Sprintf("q%d", i)},
					model.Turn{Role: model.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
				)
				So(err, ShouldBeNil)
			}
			So(len(f.turns()), ShouldEqual, 50)

			res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "latest"})
			So(res.Success, ShouldBeTrue)

			So(len(f.gen.windows), ShouldEqual, 1)
			window := f.gen.windows[0]
			So(len(window), ShouldEqual, 8)
			So(window[0].Content, ShouldEqual, "a21")
			So(window[6].Content, ShouldEqual, "a24")
			So(window[7].Role, ShouldEqual, model.RoleUser)
			So(window[7].Content, ShouldEqual, "latest")
			So(len(f.turns()), ShouldEqual, 52)
		})

		Convey("新对话的窗口只有本次提问", func() {
			f := newFixture(5)
			f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})

			So(len(f.gen.windows[0]), ShouldEqual, 1)
			So(f.gen.windows[0][0].Content, ShouldEqual, "Hello")
		})

		Convey("同一对话的并发交换不丢失消息", func() {
			f := newFixture(100)
			const n = 10

			var wg sync.WaitGroup
			results := make([]*model.ExchangeResult, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: fmt.Sprintf("p%d", i)})
				}(i)
			}
			wg.Wait()

			for _, res := range results {
				So(res.Success, ShouldBeTrue)
			}
			So(f.balance(), ShouldEqual, 100-n)

			turns := f.turns()
			So(len(turns), ShouldEqual, 2*n)
			seen := make(map[string]bool)
			for i := 0; i < len(turns); i += 2 {
				So(turns[i].Role, ShouldEqual, model.RoleUser)
				So(turns[i+1].Role, ShouldEqual, model.RoleAssistant)
				seen[turns[i].Content] = true
			}
			So(len(seen), ShouldEqual, n)
		})

		Convey("额度为 1 的用户：第一次成功，第二次额度不足", func() {
			f := newFixture(1)

			res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
			So(res.Success, ShouldBeTrue)
			So(res.Reply.Content, ShouldEqual, "Hi there")
			So(f.balance(), ShouldEqual, 0)
			So(len(f.turns()), ShouldEqual, 2)

			res = f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello again"})
			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, model.ReasonInsufficientCredit)
			So(f.balance(), ShouldEqual, 0)
			So(len(f.turns()), ShouldEqual, 2)
		})

		Convey("客户端取消不影响已受理的交换", func() {
			f := newFixture(5)
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			res := f.svc.SendText(cancelled, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
			So(res.Success, ShouldBeTrue)
			So(f.balance(), ShouldEqual, 4)
		})
	})
}

func TestExchangeService_SendImage(t *testing.T) {
	Convey("图片消息交换", t, func() {
		ctx := context.Background()

		Convey("成功时扣 2 额度，助手消息为图片URL", func() {
			f := newFixture(5)
			res := f.svc.SendImage(ctx, "u1", &model.ImageMessageRequest{ChatID: f.chatID, Prompt: "a cat", IsPublished: true})

			So(res.Success, ShouldBeTrue)
			So(res.Reply.IsImage, ShouldBeTrue)
			So(res.Reply.Content, ShouldStartWith, "https://")
			So(res.Reply.IsPublished, ShouldBeTrue)
			So(f.balance(), ShouldEqual, 3)
			So(f.gen.prompts, ShouldResemble, []string{"a cat"})

			turns := f.turns()
			So(len(turns), ShouldEqual, 2)
			So(turns[0].IsImage, ShouldBeFalse)
			So(turns[1].IsImage, ShouldBeTrue)
		})

		Convey("余额只够文本时拒绝图片请求", func() {
			f := newFixture(1)
			res := f.svc.SendImage(ctx, "u1", &model.ImageMessageRequest{ChatID: f.chatID, Prompt: "a cat"})

			So(res.Reason, ShouldEqual, model.ReasonInsufficientCredit)
			So(f.balance(), ShouldEqual, 1)
			So(f.gen.calls(), ShouldEqual, 0)
		})

		Convey("图片生成失败时不保存也不扣费", func() {
			f := newFixture(5)
			f.gen.err = fmt.Errorf("synthesize image: %w", ai.ErrUpstream)

			res := f.svc.SendImage(ctx, "u1", &model.ImageMessageRequest{ChatID: f.chatID, Prompt: "a cat"})
			So(res.Reason, ShouldEqual, model.ReasonUpstreamError)
			So(f.balance(), ShouldEqual, 5)
			So(len(f.turns()), ShouldEqual, 0)
		})
	})
}

func TestExchangeService_PartialFailures(t *testing.T) {
	Convey("提交阶段的部分失败", t, func() {
		ctx := context.Background()

		Convey("保存失败时不扣费", func() {
			f := newFixture(5)
			svc := NewExchangeService(&failingConvStore{f.convs}, f.users, f.gen, testExchangeConfig)

			res := svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, model.ReasonStorageError)
			So(f.balance(), ShouldEqual, 5)
			So(len(f.turns()), ShouldEqual, 0)
			So(f.gen.discarded, ShouldBeEmpty)
		})

		Convey("图片交换保存失败时删除已上传的图片", func() {
			f := newFixture(5)
			svc := NewExchangeService(&failingConvStore{f.convs}, f.users, f.gen, testExchangeConfig)

			res := svc.SendImage(ctx, "u1", &model.ImageMessageRequest{ChatID: f.chatID, Prompt: "a cat"})
			So(res.Reason, ShouldEqual, model.ReasonStorageError)
			So(f.balance(), ShouldEqual, 5)
			So(f.gen.discarded, ShouldResemble, []string{"quickgpt/1.png"})
		})

		Convey("图片交换期间对话被删除时同样删除图片", func() {
			f := newFixture(5)
			store := &deletingConvStore{ConversationStore: f.convs}
			svc := NewExchangeService(store, f.users, f.gen, testExchangeConfig)

			res := svc.SendImage(ctx, "u1", &model.ImageMessageRequest{ChatID: f.chatID, Prompt: "a cat"})
			So(res.Reason, ShouldEqual, model.ReasonNotFound)
			So(f.balance(), ShouldEqual, 5)
			So(f.gen.discarded, ShouldResemble, []string{"quickgpt/1.png"})
		})

		Convey("扣费失败时回复照常送达并标记未计费", func() {
			f := newFixture(5)
			svc := NewExchangeService(f.convs, &failingLedger{f.users}, f.gen, testExchangeConfig)

			res := svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
			So(res.Success, ShouldBeTrue)
			So(res.Unbilled, ShouldBeTrue)
			So(res.Reason, ShouldEqual, model.ReasonDebitFailed)
			So(res.Reply.Content, ShouldEqual, "Hi there")
			So(len(f.turns()), ShouldEqual, 2)
			So(f.balance(), ShouldEqual, 5)
		})
	})
}

func TestExchangeService_TitleAndCache(t *testing.T) {
	Convey("标题生成与缓存写回", t, func() {
		ctx := context.Background()
		f := newFixture(5)
		rc := &recordingCache{}
		f.svc.WithCache(rc).WithTitler(prefixTitler{})

		res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Hello"})
		So(res.Success, ShouldBeTrue)

		conv, err := f.convs.Load(ctx, "u1", f.chatID)
		So(err, ShouldBeNil)
		So(conv.Title, ShouldEqual, "T: Hello")

		So(len(rc.stored), ShouldEqual, 1)
		So(rc.stored[0].ID.Hex(), ShouldEqual, f.chatID)
		So(len(rc.stored[0].Messages), ShouldEqual, 2)
		So(rc.stored[0].Title, ShouldEqual, "T: Hello")

		Convey("已有标题不再覆盖", func() {
			res := f.svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Second"})
			So(res.Success, ShouldBeTrue)

			conv, err := f.convs.Load(ctx, "u1", f.chatID)
			So(err, ShouldBeNil)
			So(conv.Title, ShouldEqual, "T: Hello")
			So(len(rc.stored), ShouldEqual, 2)
			So(len(rc.stored[1].Messages), ShouldEqual, 4)
		})

		Convey("交换期间的重命名不会被加载时的旧标题覆盖", func() {
			store := &renamingConvStore{ConversationStore: f.convs, title: "Renamed"}
			svc := NewExchangeService(store, f.users, f.gen, testExchangeConfig).WithTitler(prefixTitler{})

			res := svc.SendText(ctx, "u1", &model.TextMessageRequest{ChatID: f.chatID, Prompt: "Second"})
			So(res.Success, ShouldBeTrue)
			So(store.staged[0].Title, ShouldBeEmpty)

			conv, err := f.convs.Load(ctx, "u1", f.chatID)
			So(err, ShouldBeNil)
			So(conv.Title, ShouldEqual, "Renamed")
			So(len(conv.Messages), ShouldEqual, 4)
		})
	})
}
