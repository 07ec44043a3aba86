// Package openai implements llm.Backend and llm.Embedder on top of the
// OpenAI Assistants and Embeddings APIs.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
)

const (
	defaultModelName      = string(openai.ChatModelGPT4oMini)
	defaultEmbeddingModel = string(openai.EmbeddingModelTextEmbeddingAda002)
	defaultTimeout        = 60 * time.Second
)

// Config 描述了调用 OpenAI 所需的信息。
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	// HTTPClient 为空时使用带超时的默认客户端。
	HTTPClient *http.Client
	// MaxRetries 为 0 时沿用 SDK 的默认重试次数。
	MaxRetries int
}

// Client 同时实现 llm.Backend 与 llm.Embedder。
type Client struct {
	sdk            openai.Client
	model          string
	embeddingModel string
}

var (
	_ llm.Backend  = (*Client)(nil)
	_ llm.Embedder = (*Client)(nil)
)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 OpenAI API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &Client{
		sdk:            openai.NewClient(opts...),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

// CreateAssistant 创建带函数工具的助手。
func (c *Client) CreateAssistant(ctx context.Context, spec llm.AssistantSpec) (llm.Assistant, error) {
	model := spec.Model
	if model == "" {
		model = c.model
	}

	params := openai.BetaAssistantNewParams{
		Model:        openai.ChatModel(model),
		Name:         openai.String(spec.Name),
		Instructions: openai.String(spec.Instructions),
	}
	for _, def := range spec.Tools {
		params.Tools = append(params.Tools, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.Parameters),
				},
			},
		})
	}

	assistant, err := c.sdk.Beta.Assistants.New(ctx, params)
	if err != nil {
		return llm.Assistant{}, backendError(err, "创建助手失败")
	}
	return llm.Assistant{ID: assistant.ID, Name: assistant.Name}, nil
}

// CreateThread 创建空会话。
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.sdk.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", backendError(err, "创建会话失败")
	}
	return thread.ID, nil
}

// CreateRun 在会话上启动一次运行。
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, extraInstructions string) (llm.Run, error) {
	params := openai.BetaThreadRunNewParams{AssistantID: assistantID}
	if extraInstructions != "" {
		params.AdditionalInstructions = openai.String(extraInstructions)
	}
	run, err := c.sdk.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return llm.Run{}, backendError(err, "创建运行失败")
	}
	return convertRun(run, threadID), nil
}

// RetrieveRun 读取运行的最新状态。
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (llm.Run, error) {
	run, err := c.sdk.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return llm.Run{}, backendError(err, "查询运行失败")
	}
	return convertRun(run, threadID), nil
}

// SubmitToolOutputs 一次性提交全部工具输出。
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []llm.ToolOutput) (llm.Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(out.ToolCallID),
			Output:     openai.String(out.Output),
		})
	}
	run, err := c.sdk.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return llm.Run{}, backendError(err, "提交工具输出失败")
	}
	return convertRun(run, threadID), nil
}

// AppendMessage 向会话追加一条文本消息。
func (c *Client) AppendMessage(ctx context.Context, threadID string, role llm.Role, content string) (llm.Message, error) {
	sdkRole := openai.BetaThreadMessageNewParamsRoleUser
	if role == llm.RoleAssistant {
		sdkRole = openai.BetaThreadMessageNewParamsRoleAssistant
	}
	msg, err := c.sdk.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
		Role:    sdkRole,
	})
	if err != nil {
		return llm.Message{}, backendError(err, "追加消息失败")
	}
	return convertMessage(msg, threadID), nil
}

// ListMessages 按指定顺序列出会话消息。
func (c *Client) ListMessages(ctx context.Context, threadID string, order llm.ListOrder, limit int) ([]llm.Message, error) {
	params := openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderAsc,
	}
	if order == llm.OrderDesc {
		params.Order = openai.BetaThreadMessageListParamsOrderDesc
	}
	if limit > 0 {
		params.Limit = openai.Int(int64(limit))
	}
	page, err := c.sdk.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return nil, backendError(err, "列出消息失败")
	}
	messages := make([]llm.Message, 0, len(page.Data))
	for i := range page.Data {
		messages = append(messages, convertMessage(&page.Data[i], threadID))
	}
	return messages, nil
}

// Embed 调用 Embeddings API 生成向量。
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, backendError(err, "生成向量失败")
	}
	if len(resp.Data) == 0 {
		return nil, xerrors.New(xerrors.CodeBackendFailure, "向量响应为空")
	}
	return resp.Data[0].Embedding, nil
}

// EmbeddingModel 返回用于生成向量的模型名称。
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

func convertRun(run *openai.Run, threadID string) llm.Run {
	out := llm.Run{
		ID:          run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Status:      llm.RunStatus(run.Status),
		LastError:   run.LastError.Message,
	}
	if out.ThreadID == "" {
		out.ThreadID = threadID
	}
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}

func convertMessage(msg *openai.Message, threadID string) llm.Message {
	out := llm.Message{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		RunID:       msg.RunID,
		AssistantID: msg.AssistantID,
		Role:        llm.Role(msg.Role),
	}
	if out.ThreadID == "" {
		out.ThreadID = threadID
	}
	if len(msg.Content) > 0 && msg.Content[0].Type == "text" {
		out.Text = true
		out.Content = msg.Content[0].Text.Value
	}
	return out
}

func backendError(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, message)
}
