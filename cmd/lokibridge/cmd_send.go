package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/scottbrown/lokibridge/internal/server"
)

var (
	sendURL     string
	sendTimeout time.Duration
)

// errRejected is returned when at least one message was acknowledged with an error.
var errRejected = errors.New("one or more messages were rejected")

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send log messages to a running bridge",
	Long:  "Connect to a bridge as a producer, send each argument (or each line of stdin) as one message and print the acknowledgments",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := sendURL
		if url == "" {
			url = "ws://" + net.JoinHostPort(dialHost(host), strconv.Itoa(port))
		}

		msgs := args
		if len(msgs) == 0 {
			var err error
			if msgs, err = readLines(cmd.InOrStdin()); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		return sendMessages(ctx, cmd.OutOrStdout(), url, msgs)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendURL, "url", "", "Bridge URL (default ws://<host>:<port>)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "Overall timeout")
}

// sendMessages sends msgs in order over one connection, printing one ack per line.
func sendMessages(ctx context.Context, out io.Writer, url string, msgs []string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer conn.CloseNow()

	rejected := 0
	for _, msg := range msgs {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		var ack server.Ack
		if err := wsjson.Read(ctx, conn, &ack); err != nil {
			return fmt.Errorf("read acknowledgment: %w", err)
		}
		if ack.Status != server.AckSuccess {
			rejected++
		}

		line, _ := json.Marshal(ack)
		fmt.Fprintln(out, string(line))
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")

	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d", errRejected, rejected, len(msgs))
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// dialHost maps wildcard listen hosts to loopback.
func dialHost(h string) string {
	switch h {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return h
}
