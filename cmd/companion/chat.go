package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/companion/internal/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func chatCmd() *cobra.Command {
	device := &deviceFlags{}
	var (
		serverURL   string
		token       string
		personality string
		language    string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the companion as this device",
		Long: `Send one message, or start an interactive session when no message is given.
The device identity is attached to every request, so the guest quota is the
same one the browser would see.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := device.open(zap.NewNop())
			if err != nil {
				return err
			}
			defer cleanup()

			c := client.New(client.Options{BaseURL: serverURL, Token: token, Identity: store})
			session := &chatSession{
				client:      c,
				personality: personality,
				language:    language,
				out:         cmd.OutOrStdout(),
			}

			if len(args) > 0 {
				return session.send(cmd, strings.Join(args, " "))
			}
			return session.repl(cmd, cmd.InOrStdin())
		},
	}
	device.register(cmd)
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "companion API base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token of a signed-in user")
	cmd.Flags().StringVar(&personality, "personality", "gentle", "gentle, rational or lively")
	cmd.Flags().StringVar(&language, "language", "en", "zh or en")
	return cmd
}

type chatSession struct {
	client      *client.Client
	personality string
	language    string
	history     []client.HistoryEntry
	out         io.Writer
}

func (s *chatSession) send(cmd *cobra.Command, message string) error {
	reply, err := s.client.Chat(cmd.Context(), client.ChatRequest{
		Message:             message,
		Personality:         s.personality,
		Language:            s.language,
		ConversationHistory: s.history,
	})
	var limitErr *client.LimitError
	if errors.As(err, &limitErr) {
		fmt.Fprintf(s.out, "daily limit reached (%d/%d). %s\n", limitErr.Limit-limitErr.Remaining, limitErr.Limit, limitErr.Message)
		return err
	}
	if err != nil {
		return err
	}
	s.history = append(s.history,
		client.HistoryEntry{Sender: "user", Content: message},
		client.HistoryEntry{Sender: "ai", Content: reply.Response},
	)
	fmt.Fprintf(s.out, "%s\n(%d left today)\n", reply.Response, reply.Remaining)
	return nil
}

func (s *chatSession) repl(cmd *cobra.Command, in io.Reader) error {
	usage, err := s.client.Usage(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d of %d messages left today. Empty line to quit.\n", usage.Remaining, usage.Limit)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		if err := s.send(cmd, line); err != nil {
			if errors.Is(err, client.ErrLimitReached) {
				return nil
			}
			return err
		}
	}
}
