package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"momentum-backtest/internal/config"
)

const narrativeSystemPrompt = `你是量化研究助理。下面是一批动量或均线交叉策略的回测文本报告，包含逐标的结果、等权组合净值与收益相关矩阵。
请用不超过 150 字的中文总结：组合整体表现、表现最好与最差的标的、相关性是否足以分散风险。只依据报告中的数字，不要给出投资建议。`

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Narrator 调用 OpenAI 兼容接口为批次报告生成文字点评。
type Narrator struct {
	client chatCompleter
	model  string
	logger *zap.Logger
}

// NewNarrator 使用给定配置创建点评生成器。
func NewNarrator(cfg config.NarrativeConfig, logger *zap.Logger) (*Narrator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("report: narrative api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return newNarrator(openai.NewClientWithConfig(clientCfg), cfg.Model, logger), nil
}

func newNarrator(client chatCompleter, model string, logger *zap.Logger) *Narrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Narrator{client: client, model: model, logger: logger}
}

// Narrate 返回针对文本报告的简短点评。
func (n *Narrator) Narrate(ctx context.Context, summary string) (string, error) {
	if n.model == "" {
		return "", errors.New("report: narrative model 不能为空")
	}

	response, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: narrativeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: summary},
		},
		Temperature: 0,
	})
	if err != nil {
		n.logger.Error("调用OpenAI失败", zap.Error(err))
		return "", fmt.Errorf("report: 调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("report: OpenAI 返回结果为空")
	}

	text := strings.TrimSpace(response.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("report: OpenAI 返回内容为空")
	}

	n.logger.Info("回测点评生成成功", zap.String("model", n.model), zap.Int("chars", len([]rune(text))))
	return text, nil
}

// WithNarrative 将点评附加到文本报告末尾。
func WithNarrative(summary, narrative string) string {
	if narrative == "" {
		return summary
	}
	return strings.TrimRight(summary, "\n") + "\n\nnarrative:\n" + narrative + "\n"
}
