// Package directory keeps the in-process registry of agents: their
// profiles, the reporting hierarchy and the conversation channel shared by
// every pair of agents that have talked to each other.
package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	xerrors "AgentHive/internal/errors"
)

// UserID 是人类调用方在频道表中的标识。
const UserID = "USER"

// Agent 是智能体的不可变档案。
type Agent struct {
	ID           string
	Name         string
	Instructions string
	ToolNames    []string
}

// Entry 是目录中的一条记录。
type Entry struct {
	Agent          Agent
	ManagerID      string
	SubordinateIDs []string
	// Channels 以对端 ID 为 key 记录共享会话。
	Channels map[string]string
}

// Directory 是并发安全的智能体目录。
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	rootID  string
	group   singleflight.Group
}

// New 创建空目录。
func New() *Directory {
	return &Directory{entries: make(map[string]*Entry)}
}

// Register 登记一个智能体，并记录其与 counterpartID 之间的频道。
// 第一个登记的智能体成为根节点。
func (d *Directory) Register(agent Agent, counterpartID, channelID string) error {
	if strings.TrimSpace(agent.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent id 不能为空")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[agent.ID]; ok {
		return xerrors.Newf(xerrors.CodeConflict, "agent %s already registered", agent.ID)
	}
	entry := &Entry{Agent: cloneAgent(agent), Channels: make(map[string]string)}
	if counterpartID != "" && channelID != "" {
		entry.Channels[counterpartID] = channelID
	}
	d.entries[agent.ID] = entry
	if d.rootID == "" {
		d.rootID = agent.ID
	}
	return nil
}

// AttachSubordinate 在 managerID 之下登记新的下属，channelID 为双方共享的会话。
func (d *Directory) AttachSubordinate(managerID string, agent Agent, channelID string) error {
	if strings.TrimSpace(agent.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent id 不能为空")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	manager, ok := d.entries[managerID]
	if !ok {
		return xerrors.Newf(xerrors.CodeNotFound, "Manager %s not found", managerID)
	}
	if _, exists := d.entries[agent.ID]; exists {
		return xerrors.Newf(xerrors.CodeConflict, "agent %s already registered", agent.ID)
	}
	entry := &Entry{
		Agent:     cloneAgent(agent),
		ManagerID: managerID,
		Channels:  map[string]string{managerID: channelID},
	}
	d.entries[agent.ID] = entry
	manager.SubordinateIDs = append(manager.SubordinateIDs, agent.ID)
	manager.Channels[agent.ID] = channelID
	return nil
}

// DescribeHierarchy 渲染以 rootID 为根的组织结构，每层缩进两个空格，同级按 ID 排序。
func (d *Directory) DescribeHierarchy(rootID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	children := make(map[string][]string, len(d.entries))
	for id, entry := range d.entries {
		if entry.ManagerID != "" {
			children[entry.ManagerID] = append(children[entry.ManagerID], id)
		}
	}
	for _, ids := range children {
		sort.Strings(ids)
	}

	var b strings.Builder
	visited := make(map[string]bool, len(d.entries))
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		entry, ok := d.entries[id]
		if !ok || visited[id] {
			return
		}
		visited[id] = true
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(id)
		b.WriteString(" - ")
		b.WriteString(entry.Agent.Name)
		b.WriteString("\n")
		for _, child := range children[id] {
			walk(child, depth+1)
		}
	}
	walk(rootID, 0)
	return b.String()
}

// Channel 返回 a 与 b 之间已有的频道。
func (d *Directory) Channel(a, b string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channelLocked(a, b)
}

func (d *Directory) channelLocked(a, b string) (string, bool) {
	if entry, ok := d.entries[a]; ok {
		if ch, ok := entry.Channels[b]; ok {
			return ch, true
		}
	}
	if entry, ok := d.entries[b]; ok {
		if ch, ok := entry.Channels[a]; ok {
			return ch, true
		}
	}
	return "", false
}

// EnsureChannel 返回 a 与 b 之间的频道，不存在时调用 create 创建。
// 同一对智能体的并发请求只会创建一次频道。
func (d *Directory) EnsureChannel(ctx context.Context, a, b string, create func(context.Context) (string, error)) (string, error) {
	if ch, ok := d.Channel(a, b); ok {
		return ch, nil
	}

	key := pairKey(a, b)
	result, err, _ := d.group.Do(key, func() (any, error) {
		if ch, ok := d.Channel(a, b); ok {
			return ch, nil
		}
		ch, err := create(ctx)
		if err != nil {
			return "", err
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if existing, ok := d.channelLocked(a, b); ok {
			return existing, nil
		}
		if entry, ok := d.entries[a]; ok {
			entry.Channels[b] = ch
		}
		if entry, ok := d.entries[b]; ok {
			entry.Channels[a] = ch
		}
		return ch, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Get 返回智能体记录的副本。
func (d *Directory) Get(id string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[id]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

// Root 返回根智能体的 ID。
func (d *Directory) Root() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rootID, d.rootID != ""
}

// Len 返回目录中的智能体数量。
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func cloneAgent(agent Agent) Agent {
	agent.ToolNames = append([]string(nil), agent.ToolNames...)
	return agent
}

func cloneEntry(entry *Entry) Entry {
	out := Entry{
		Agent:          cloneAgent(entry.Agent),
		ManagerID:      entry.ManagerID,
		SubordinateIDs: append([]string(nil), entry.SubordinateIDs...),
		Channels:       make(map[string]string, len(entry.Channels)),
	}
	for k, v := range entry.Channels {
		out.Channels[k] = v
	}
	return out
}
