// Package team exposes organisation management to assistants: hiring a
// subordinate agent and describing the current reporting structure.
package team

import (
	"context"
	"strings"

	"AgentHive/internal/directory"
	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/tools"
)

const (
	CreateAgentToolName = "create_agent"
	StructureToolName   = "get_team_structure"
)

// Spawner 创建隶属于 managerID 的新智能体。
type Spawner interface {
	Spawn(ctx context.Context, managerID, name, instructions string) (directory.Agent, error)
}

// Hierarchy 描述组织结构，*directory.Directory 实现了该接口。
type Hierarchy interface {
	Root() (string, bool)
	DescribeHierarchy(rootID string) string
}

// Summary 是 create_agent 的返回值。
type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ManagerID string `json:"managerId"`
}

type createArgs struct {
	AgentName    string `json:"agentName" description:"The name/role of the agent to create (e.g., 'CTO', 'Marketing Manager')"`
	SystemPrompt string `json:"systemPrompt" description:"The system prompt that defines the agent's role and behavior"`
	AssistantID  string `json:"assistantId,omitempty" description:"The Assistant ID of the manager (use your own assistant id, not your name)"`
}

// Tools 返回组织管理工具。
func Tools(spawner Spawner, hierarchy Hierarchy) []tools.Tool {
	return []tools.Tool{CreateAgentTool(spawner), StructureTool(hierarchy)}
}

// CreateAgentTool 创建下属智能体。
func CreateAgentTool(spawner Spawner) tools.Tool {
	return tools.NewTyped(CreateAgentToolName,
		"Creates a new AI agent with specified parameters and delegates a task to it",
		func(ctx context.Context, args createArgs) (any, error) {
			manager := strings.TrimSpace(args.AssistantID)
			if manager == "" {
				if inv, ok := tools.InvocationFrom(ctx); ok {
					manager = inv.AgentID
				}
			}
			if strings.TrimSpace(args.AgentName) == "" {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "agentName must not be empty")
			}
			agent, err := spawner.Spawn(ctx, manager, args.AgentName, args.SystemPrompt)
			if err != nil {
				return nil, err
			}
			return Summary{ID: agent.ID, Name: agent.Name, ManagerID: manager}, nil
		})
}

// StructureTool 渲染从根节点开始的组织结构。
func StructureTool(hierarchy Hierarchy) tools.Tool {
	return tools.NewTyped(StructureToolName,
		"Retrieves the organizational structure of the AI agents",
		func(context.Context, struct{}) (any, error) {
			root, ok := hierarchy.Root()
			if !ok {
				return "", nil
			}
			return hierarchy.DescribeHierarchy(root), nil
		})
}
