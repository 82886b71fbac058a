package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"peerchat/internal/app"
	"peerchat/internal/domain"
)

const replHelp = `Commands:
  /peers                  list online peers
  /send <name|id> <text>  send a message
  /read <name>            mark messages from name as read
  /history <name>         show the last messages with name
  /quit                   leave
`

func runCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log in, announce yourself on the LAN and chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			pw, err := readPassword(in, out)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := appCtx.Login(ctx, domain.Username(user), pw)
			if err != nil {
				return err
			}
			defer w.Close()

			unsubscribe := w.Dispatcher.Subscribe(func(ev domain.InboundEvent) {
				fmt.Fprintf(out, "\n[%s] %s: %s\n> ",
					ev.Timestamp.Format("15:04:05"), ev.Sender, ev.Message)
			})
			defer unsubscribe()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			nodeErr := make(chan error, 1)
			go func() { nodeErr <- w.Node.Run(runCtx) }()

			select {
			case <-w.Node.Ready():
			case err := <-nodeErr:
				return err
			}
			fp, _ := w.Identity.Fingerprint()
			fmt.Fprintf(out, "Logged in as %s (node %s, fingerprint %s)\n%s> ",
				user, w.Identity.NodeID(), fp, replHelp)

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(in)
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-runCtx.Done():
						return
					}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					cancel()
					return <-nodeErr
				case err := <-nodeErr:
					return err
				case line, ok := <-lines:
					if !ok {
						cancel()
						return <-nodeErr
					}
					if quit := handleLine(runCtx, w, out, line); quit {
						cancel()
						return <-nodeErr
					}
					fmt.Fprint(out, "> ")
				}
			}
		},
	}
	cmd.Flags().StringVarP(&user, "username", "u", "", "your username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or $PEERCHAT_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// handleLine executes one REPL line and reports whether to quit.
func handleLine(ctx context.Context, w *app.Wire, out io.Writer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/peers":
		listPeers(w, out)
	case "/send":
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "/send"))
		to, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if to == "" || text == "" {
			fmt.Fprintln(out, "usage: /send <name|id> <text>")
			return false
		}
		send(ctx, w, out, to, text)
	case "/read":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /read <name>")
			return false
		}
		n, err := w.Messages.MarkRead(ctx, domain.Username(fields[1]))
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintf(out, "marked %d message(s) read\n", n)
	case "/history":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /history <name>")
			return false
		}
		me, _ := w.Identity.Username()
		msgs, err := w.Log.Conversation(ctx, me, domain.Username(fields[1]), 20)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		printMessages(out, msgs)
	default:
		fmt.Fprint(out, replHelp)
	}
	return false
}

func listPeers(w *app.Wire, out io.Writer) {
	peers := w.Directory.ListActive(time.Now())
	if len(peers) == 0 {
		fmt.Fprintln(out, "(no peers online)")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tADDRESS\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s ago\n",
			p.Username, p.ID, p.Addr(), time.Since(p.LastSeen).Round(time.Second))
	}
	_ = tw.Flush()
}

// send accepts a node id or a display name.
func send(ctx context.Context, w *app.Wire, out io.Writer, to, text string) {
	rcpt, err := w.Messages.Send(ctx, domain.NodeID(to), text)
	if errors.Is(err, domain.ErrPeerUnavailable) {
		rcpt, err = w.Messages.SendTo(ctx, domain.Username(to), text)
	}
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	fmt.Fprintf(out, "sent #%d to %s\n", rcpt.MessageID, rcpt.PeerID)
}
