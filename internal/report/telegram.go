package report

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"momentum-backtest/internal/config"
)

const telegramTextLimit = 4096

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier 将文本报告与组合图表推送到指定会话。
type TelegramNotifier struct {
	api    telegramSender
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier 根据配置创建推送器。
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("report: telegram 需要 token 与 chat_id")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("report: 初始化 telegram 失败: %w", err)
	}
	return newTelegramNotifier(api, cfg.ChatID, logger), nil
}

func newTelegramNotifier(api telegramSender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{api: api, chatID: chatID, logger: logger}
}

// Notify 先发送文本报告，再逐张发送图表。
func (n *TelegramNotifier) Notify(ctx context.Context, summary string, charts []Chart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// 预留代码块标记的长度
	text := summary
	if limit := telegramTextLimit - 16; len(text) > limit {
		text = text[:limit] + "..."
	}
	msg := tgbotapi.NewMessage(n.chatID, "```\n"+text+"\n```")
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("report: 发送 telegram 文本失败: %w", err)
	}

	for _, c := range charts {
		if err := ctx.Err(); err != nil {
			return err
		}
		photo := tgbotapi.NewPhoto(n.chatID, tgbotapi.FileBytes{Name: c.Name, Bytes: c.PNG})
		photo.Caption = c.Title
		if _, err := n.api.Send(photo); err != nil {
			return fmt.Errorf("report: 发送 telegram 图表 %s 失败: %w", c.Name, err)
		}
	}

	n.logger.Info("回测报告已推送", zap.Int64("chat_id", n.chatID), zap.Int("charts", len(charts)))
	return nil
}
