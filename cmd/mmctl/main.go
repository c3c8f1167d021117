// Command mmctl is an operator CLI for a running magicmirrord: it opens a
// short-lived QUIC connection, sends one request/reply stream message, and
// prints the decoded result. Grounded on the retrieved breeze-agent's
// cobra command layout, adapted from a long-running agent to a one-shot
// request tool.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/spf13/cobra"

	"github.com/magicmirror/mmcore/internal/wire"
)

var (
	serverAddr string
	alpn       string
	insecure   bool
)

var rootCmd = &cobra.Command{
	Use:   "mmctl",
	Short: "Operator CLI for a running magicmirrord",
}

var listAppsCmd = &cobra.Command{
	Use:   "list-apps",
	Short: "List launchable applications",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply wire.ListAppsReply
		if err := request(wire.TagListApps, wire.ListApps{}, &reply); err != nil {
			return err
		}
		for _, a := range reply.Apps {
			fmt.Println(a.Name)
		}
		return nil
	},
}

var listSessionsCmd = &cobra.Command{
	Use:   "list-sessions",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply wire.ListSessionsReply
		if err := request(wire.TagListSessions, wire.ListSessions{}, &reply); err != nil {
			return err
		}
		for _, s := range reply.Sessions {
			fmt.Printf("%d\t%s\t%dx%d@%d\tattachments=%d\n",
				s.SessionID, s.App, s.Display.Width, s.Display.Height, s.Display.Framerate, s.Attachments)
		}
		return nil
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch [app]",
	Short: "Launch a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply wire.LaunchSessionReply
		if err := request(wire.TagLaunchSession, wire.LaunchSession{App: args[0]}, &reply); err != nil {
			return err
		}
		fmt.Printf("session_id=%d\n", reply.SessionID)
		return nil
	},
}

var endCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		var reply wire.Error
		if err := request(wire.TagEndSession, wire.EndSession{SessionID: id}, &reply); err != nil {
			return err
		}
		fmt.Printf("session %d ended\n", id)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:9443", "magicmirrord QUIC address")
	rootCmd.PersistentFlags().StringVar(&alpn, "alpn", "mm/1", "QUIC ALPN identifier")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", true, "skip TLS certificate verification")

	rootCmd.AddCommand(listAppsCmd, listSessionsCmd, launchCmd, endCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mmctl:", err)
		os.Exit(1)
	}
}

// request opens a fresh QUIC connection and bidirectional stream, writes
// one tagged request, and decodes the single reply envelope into out. Every
// invocation of mmctl is this one-shot request/reply shape; there is no
// persistent client connection to manage.
func request(tag wire.Tag, req any, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, serverAddr, &tls.Config{
		NextProtos:         []string{alpn},
		InsecureSkipVerify: insecure,
	}, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if err := wire.WriteEnvelope(stream, tag, req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	reply, err := wire.ReadEnvelope(stream)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if reply.Tag == wire.TagError {
		var wireErr wire.Error
		if decodeErr := reply.Decode(&wireErr); decodeErr != nil {
			return fmt.Errorf("server returned an error reply")
		} else if wireErr.Code != wire.ErrNone {
			return fmt.Errorf("server: %s: %s", wireErr.Code, wireErr.Text)
		} else if out, ok := out.(*wire.Error); ok {
			*out = wireErr
			return nil
		}
	}
	return reply.Decode(out)
}
