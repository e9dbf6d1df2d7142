package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbeck018/crewflow-go/internal/config"
	"github.com/jbeck018/crewflow-go/model"
	"github.com/jbeck018/crewflow-go/model/anthropic"
	"github.com/jbeck018/crewflow-go/model/google"
	"github.com/jbeck018/crewflow-go/model/openai"
)

// ChatOptions carries chat's parsed flags.
type ChatOptions struct {
	*RootOptions
	modelRef string
}

// NewChatCommand builds the chat subcommand: an interactive REPL over a
// model.ChatModel, reading lines from stdin until "exit" or an interrupt.
func NewChatCommand(root *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Start an interactive chat session against a configured model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.modelRef, "model", "m", "", "provider:model to chat against (defaults to the configured model.default_ref)")

	return cmd
}

// resolveChatModel picks a provider implementation by the "provider:model"
// reference, reading its API key from cfg (which already reflects any
// environment override). Each provider package owns its own retry/backoff
// and error mapping; chat only needs the ChatModel interface.
func resolveChatModel(ref string, cfg config.Config) (model.ChatModel, error) {
	provider, modelName, ok := strings.Cut(ref, ":")
	if !ok || modelName == "" {
		return nil, fmt.Errorf("model reference %q must be provider:model", ref)
	}

	switch provider {
	case "anthropic":
		if cfg.Model.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewChatModel(cfg.Model.AnthropicAPIKey, modelName), nil
	case "openai":
		if cfg.Model.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return openai.NewChatModel(cfg.Model.OpenAIAPIKey, modelName), nil
	case "google":
		if cfg.Model.GoogleAPIKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
		}
		return google.NewChatModel(cfg.Model.GoogleAPIKey, modelName), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q: expected anthropic, openai, or google", provider)
	}
}

func (o *ChatOptions) run(cmd *cobra.Command) error {
	ref := o.modelRef
	if ref == "" {
		ref = o.Config.Model.DefaultRef
	}

	chatModel, err := resolveChatModel(ref, o.Config)
	if err != nil {
		return WrapExitError(ExitUsageError, "cannot start chat", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chatting with %s (type \"exit\" to quit)\n", ref)

	var history []model.Message
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		history = append(history, model.Message{Role: model.RoleUser, Content: line})

		reply, err := chatModel.Chat(ctx, history, nil)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return WrapExitError(ExitExecutionErr, "chat request failed", err)
		}

		if o.Verbose {
			fmt.Fprintf(out, "[raw] %+v\n", reply)
		}
		fmt.Fprintf(out, "%s\n", reply.Text)
		history = append(history, model.Message{Role: model.RoleAssistant, Content: reply.Text})
	}

	return scanner.Err()
}
