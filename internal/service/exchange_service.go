package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quickgpt/internal/ai"
	"quickgpt/internal/config"
	"quickgpt/internal/model"
	"quickgpt/internal/repository"
)

// 返回给用户的失败提示
const (
	msgInsufficientCredit = "You don't have enough credits to use this feature"
	msgNotFound           = "Chat not found"
	msgRateLimited        = "The AI provider is busy, please try again later"
	msgUpstreamError      = "Failed to generate a reply, please try again"
	msgTimeout            = "The AI provider took too long to respond, please try again"
	msgStorageError       = "Failed to save the conversation, you were not charged"
	msgDebitFailed        = "Reply delivered but credits could not be deducted"
)

// Generator 生成网关
type Generator interface {
	CompleteText(ctx context.Context, window []ai.Message) (*ai.Message, error)
	SynthesizeImage(ctx context.Context, prompt string) (*ai.Image, error)
	DiscardImage(ctx context.Context, key string) error
}

// ConversationCache 提交后写回对话详情缓存
type ConversationCache interface {
	StoreConversation(ctx context.Context, conv *model.Conversation) error
}

// Titler 根据第一条提问生成对话标题
type Titler interface {
	Title(prompt string) string
}

// ExchangeService 消息交换服务
// 一次交换: 加载对话 -> 额度预检 -> 暂存用户消息 -> 调用生成网关 -> 一次性保存两条消息 -> 扣费
// 生成失败时不保存也不扣费；保存成功但扣费失败时照常返回回复并标记 Unbilled
type ExchangeService struct {
	convs     repository.ConversationStore
	ledger    repository.CreditLedger
	generator Generator
	cfg       config.ExchangeConfig
	cache     ConversationCache
	titler    Titler
	now       func() time.Time
}

// NewExchangeService 创建消息交换服务
func NewExchangeService(convs repository.ConversationStore, ledger repository.CreditLedger, generator Generator, cfg config.ExchangeConfig) *ExchangeService {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 8
	}
	if cfg.TextCost <= 0 {
		cfg.TextCost = 1
	}
	if cfg.ImageCost <= 0 {
		cfg.ImageCost = 2
	}

	return &ExchangeService{
		convs:     convs,
		ledger:    ledger,
		generator: generator,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithCache 设置对话缓存，提交后写回最新的对话
func (s *ExchangeService) WithCache(c ConversationCache) *ExchangeService {
	s.cache = c
	return s
}

// WithTitler 设置标题生成器
func (s *ExchangeService) WithTitler(t Titler) *ExchangeService {
	s.titler = t
	return s
}

// generated 生成网关的产出
type generated struct {
	turn     model.Turn
	assetKey string // 图片交换上传的资源，保存失败时删除
}

// generateFunc 调用生成网关，返回助手消息
type generateFunc func(ctx context.Context, conv *model.Conversation, userTurn model.Turn) (generated, error)

// SendText 文本消息交换，成功扣除 TextCost
func (s *ExchangeService) SendText(ctx context.Context, userID string, req *model.TextMessageRequest) *model.ExchangeResult {
	return s.exchange(ctx, userID, req.ChatID, req.Prompt, s.cfg.TextCost, "text",
		func(ctx context.Context, conv *model.Conversation, userTurn model.Turn) (generated, error) {
			window := historyWindow(conv.Messages, userTurn, s.cfg.HistoryWindow)
			reply, err := s.generator.CompleteText(ctx, toGatewayMessages(window))
			if err != nil {
				return generated{}, err
			}
			return generated{turn: model.Turn{
				Role:      model.RoleAssistant,
				Content:   reply.Content,
				Timestamp: s.now(),
			}}, nil
		})
}

// SendImage 图片消息交换，成功扣除 ImageCost
func (s *ExchangeService) SendImage(ctx context.Context, userID string, req *model.ImageMessageRequest) *model.ExchangeResult {
	return s.exchange(ctx, userID, req.ChatID, req.Prompt, s.cfg.ImageCost, "image",
		func(ctx context.Context, conv *model.Conversation, userTurn model.Turn) (generated, error) {
			img, err := s.generator.SynthesizeImage(ctx, userTurn.Content)
			if err != nil {
				return generated{}, err
			}
			return generated{
				turn: model.Turn{
					Role:        model.RoleAssistant,
					Content:     img.URL,
					Timestamp:   s.now(),
					IsImage:     true,
					IsPublished: req.IsPublished,
				},
				assetKey: img.Key,
			}, nil
		})
}

func (s *ExchangeService) exchange(ctx context.Context, userID, chatID, prompt string, cost int64, kind string, generate generateFunc) *model.ExchangeResult {
	// 一旦受理，客户端断开不再中断交换，生成网关自身的超时仍然生效
	ctx = context.WithoutCancel(ctx)

	logger := log.With().
		Str("user_id", userID).
		Str("conversation_id", chatID).
		Str("kind", kind).
		Int64("cost", cost).
		Logger()

	conv, err := s.convs.Load(ctx, userID, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failure(model.ReasonNotFound, msgNotFound)
		}
		logger.Error().Err(err).Msg("failed to load conversation")
		return failure(model.ReasonStorageError, msgStorageError)
	}

	ok, err := s.ledger.CheckBalance(ctx, userID, cost)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check credit balance")
		return failure(model.ReasonStorageError, msgStorageError)
	}
	if !ok {
		logger.Info().Msg("exchange rejected, insufficient credit")
		return failure(model.ReasonInsufficientCredit, msgInsufficientCredit)
	}

	userTurn := model.Turn{
		Role:      model.RoleUser,
		Content:   prompt,
		Timestamp: s.now(),
	}

	start := s.now()
	out, err := generate(ctx, conv, userTurn)
	if err != nil {
		reason, msg := gatewayFailure(err)
		logger.Warn().Err(err).Str("reason", string(reason)).Dur("elapsed", s.now().Sub(start)).Msg("generation failed, nothing saved")
		return failure(reason, msg)
	}

	reply := out.turn

	// 暂存副本只携带新生成的标题，标题未变化时为空，存储层不会覆盖并发的重命名
	staged := conv.Clone()
	staged.Title = s.deriveTitle(conv.Title, prompt)

	committed, err := s.convs.AppendAndSave(ctx, staged, userTurn, reply)
	if err != nil {
		s.discardAsset(ctx, logger, out.assetKey)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn().Msg("conversation removed during exchange, nothing saved")
			return failure(model.ReasonNotFound, msgNotFound)
		}
		logger.Error().Err(err).Msg("failed to save exchange, not charged")
		return failure(model.ReasonStorageError, msgStorageError)
	}
	s.writeBack(ctx, logger, committed)

	if err := s.ledger.Debit(ctx, userID, cost); err != nil {
		logger.Error().Err(err).Int("turns", len(committed.Messages)).Msg("exchange saved but debit failed, needs reconciliation")
		return &model.ExchangeResult{
			Success:  true,
			Reply:    &reply,
			Reason:   model.ReasonDebitFailed,
			Message:  msgDebitFailed,
			Unbilled: true,
		}
	}

	logger.Info().Int("turns", len(committed.Messages)).Dur("elapsed", s.now().Sub(start)).Msg("exchange completed")
	return &model.ExchangeResult{
		Success: true,
		Reply:   &reply,
	}
}

// deriveTitle 标题仍为默认值时，用本次提问生成标题，否则返回空
func (s *ExchangeService) deriveTitle(current, prompt string) string {
	if s.titler == nil || current != model.DefaultConversationTitle {
		return ""
	}
	return s.titler.Title(prompt)
}

func (s *ExchangeService) writeBack(ctx context.Context, logger zerolog.Logger, committed *model.Conversation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.StoreConversation(ctx, committed); err != nil {
		logger.Warn().Err(err).Msg("failed to write back conversation cache")
	}
}

func (s *ExchangeService) discardAsset(ctx context.Context, logger zerolog.Logger, key string) {
	if key == "" {
		return
	}
	if err := s.generator.DiscardImage(ctx, key); err != nil {
		logger.Warn().Err(err).Str("asset_key", key).Msg("failed to remove orphaned image")
		return
	}
	logger.Info().Str("asset_key", key).Msg("removed image of unsaved exchange")
}

// historyWindow 取历史消息加上暂存的用户消息后最近的 n 条
func historyWindow(history []model.Turn, staged model.Turn, n int) []model.Turn {
	all := make([]model.Turn, 0, len(history)+1)
	all = append(all, history...)
	all = append(all, staged)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func toGatewayMessages(turns []model.Turn) []ai.Message {
	msgs := make([]ai.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, ai.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// gatewayFailure 生成网关错误到失败原因的映射
func gatewayFailure(err error) (model.FailureReason, string) {
	switch {
	case errors.Is(err, ai.ErrRateLimited):
		return model.ReasonRateLimited, msgRateLimited
	case errors.Is(err, ai.ErrTimeout):
		return model.ReasonTimeout, msgTimeout
	default:
		return model.ReasonUpstreamError, msgUpstreamError
	}
}

func failure(reason model.FailureReason, msg string) *model.ExchangeResult {
	return &model.ExchangeResult{
		Success: false,
		Reason:  reason,
		Message: msg,
	}
}
