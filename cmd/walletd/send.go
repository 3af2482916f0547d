package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/walletrt-go/adapters/nats"
)

func (c *cli) sendCmd() *cobra.Command {
	var (
		endpoint string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send MESSAGE",
		Short: "send a message to a running walletd and print the response",
		Example: `  walletd send '{"type":"CreateAccount","payload":{"alias":"main"}}'
  walletd send -e nats://localhost:4222 '{"type":"ListAccounts"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var (
				resp string
				err  error
			)
			if strings.HasPrefix(endpoint, "nats://") {
				resp, err = c.sendNATS(ctx, endpoint, args[0])
			} else {
				resp, err = sendHTTP(ctx, endpoint, args[0])
			}
			if err != nil {
				return err
			}
			cmd.Println(resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:8080", "walletd HTTP or NATS endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "response timeout")
	return cmd
}

func (c *cli) sendNATS(ctx context.Context, url, message string) (string, error) {
	client, err := nats.NewBindingClient(nats.BindingConfig{
		Connect:       nats.ConnectURL(url),
		SubjectPrefix: c.v.GetString("nats.prefix"),
	})
	if err != nil {
		return "", err
	}
	defer client.Close()
	return client.Send(ctx, message)
}

func sendHTTP(ctx context.Context, endpoint, message string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(endpoint, "/")+"/messages", strings.NewReader(message))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	// error frames come with a non-2xx status and are printed as is
	return string(body), nil
}
