package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	xerrors "AgentHive/internal/errors"
)

// chatter 是交互式会话依赖的能力，*agent.Hive 实现了该接口。
type chatter interface {
	Chat(ctx context.Context, input string) (string, error)
}

func runChat(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error in main:", err)
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := buildApplication(ctx, cfg)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error in main:", xerrors.MessageOf(err))
		return err
	}
	defer app.Close()

	return chatLoop(ctx, app.hive, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop 逐行读取输入并交给根智能体，输入 exit 或读到 EOF 时结束。
// 任一回合失败都会结束会话并返回该错误。
func chatLoop(ctx context.Context, hive chatter, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, `Chat started! Type "exit" to end the conversation.`)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "exit") {
			return nil
		}
		if input == "" {
			continue
		}

		reply, err := hive.Chat(ctx, input)
		if err != nil {
			fmt.Fprintln(out, "Error during chat:", xerrors.MessageOf(err))
			return err
		}
		if reply != "" {
			fmt.Fprintln(out, "\nCEO: "+reply)
		}
	}
}
