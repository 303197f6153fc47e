package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/itshen/AI-message-hook/internal/config"
)

// chatOptions holds the chat command flags.
type chatOptions struct {
	proxyURL     string
	token        string
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	stream       bool
	verbose      bool
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one chat completion through the proxy",
		Long: `Send a single chat completion request through the running proxy and print the answer.
The message is read from the arguments, or from stdin when it is not a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := chatMessage(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runChat(cmd, opts, message)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.proxyURL, "proxy", config.EnvOrDefault("PROXY_URL", "http://localhost:8080/api/v1"), "Proxy URL including the proxy prefix")
	f.StringVar(&opts.token, "token", "", "Caller credential; the proxy substitutes its own when configured to")
	f.StringVar(&opts.model, "model", "", "Model to request; empty lets the proxy fill in its default")
	f.StringVar(&opts.systemPrompt, "system", "", "System prompt")
	f.Float64Var(&opts.temperature, "temperature", 0.7, "Temperature for generation")
	f.IntVar(&opts.maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 = no limit)")
	f.BoolVar(&opts.stream, "stream", config.EnvBoolOrDefault("CHAT_STREAM", false), "Stream the response")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Show timing and token usage")
	return cmd
}

// chatMessage joins the arguments, falling back to piped stdin.
func chatMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("a message is required")
	}
	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", errors.New("a message is required")
	}
	return msg, nil
}

func runChat(cmd *cobra.Command, opts *chatOptions, message string) error {
	cfg := openai.DefaultConfig(opts.token)
	cfg.BaseURL = strings.TrimRight(opts.proxyURL, "/")
	client := openai.NewClientWithConfig(cfg)

	var messages []openai.ChatCompletionMessage
	if opts.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	req := openai.ChatCompletionRequest{
		Model:       opts.model,
		Messages:    messages,
		Temperature: float32(opts.temperature),
		MaxTokens:   opts.maxTokens,
		Stream:      opts.stream,
	}

	out := cmd.OutOrStdout()
	start := time.Now()
	if !opts.stream {
		resp, err := client.CreateChatCompletion(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("no response from model")
		}
		fmt.Fprintln(out, resp.Choices[0].Message.Content)
		if opts.verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "[model: %s, %d prompt + %d completion tokens, %s]\n",
				resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start).Round(time.Millisecond))
		}
		return nil
	}

	stream, err := client.CreateChatCompletionStream(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer func() { _ = stream.Close() }()

	var firstToken time.Duration
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("stream interrupted: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if firstToken == 0 {
			firstToken = time.Since(start)
		}
		fmt.Fprint(out, chunk.Choices[0].Delta.Content)
	}
	fmt.Fprintln(out)
	if opts.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[first token after %s, total %s]\n",
			firstToken.Round(time.Millisecond), time.Since(start).Round(time.Millisecond))
	}
	return nil
}
