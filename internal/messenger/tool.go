package messenger

import (
	"context"
	"log/slog"
	"strings"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/tools"
)

// ToolName 是消息工具的名称。
const ToolName = "send_message_to_agent"

type sendArgs struct {
	RecipientAgent string `json:"recipientAgent" description:"The Assistant ID (NOT the name) of the agent to send the message to. It must be an existing agent"`
	Message        string `json:"message" description:"The message to send to the agent"`
	AssistantID    string `json:"assistantId,omitempty" description:"Your own Assistant ID (NOT your name)"`
}

// Tool 返回 send_message_to_agent 工具。处理函数从不返回错误，
// 失败以 "Error sending message: ..." 文本形式交给调用方。
func (m *Messenger) Tool() tools.Tool {
	return tools.NewTyped(ToolName,
		"Sends a message to an existing AI agent and gets their response",
		func(ctx context.Context, args sendArgs) (any, error) {
			from := strings.TrimSpace(args.AssistantID)
			if from == "" {
				if inv, ok := tools.InvocationFrom(ctx); ok {
					from = inv.AgentID
				}
			}
			reply, err := m.Send(ctx, from, strings.TrimSpace(args.RecipientAgent), args.Message)
			if err != nil {
				m.logger.Warn("消息发送失败",
					slog.String("from", from),
					slog.String("to", args.RecipientAgent),
					slog.String("code", string(xerrors.CodeOf(err))),
					slog.String("error", xerrors.MessageOf(err)),
				)
				return "Error sending message: " + xerrors.MessageOf(err), nil
			}
			return reply, nil
		})
}
