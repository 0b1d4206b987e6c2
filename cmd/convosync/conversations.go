package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/LuminPulse-AI/convosync"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	conversationsJSON bool

	messagesJSON     bool
	messagesMarkRead bool

	sendAttachmentURL  string
	sendAttachmentName string
	sendJSON           bool
)

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), s.callTimeout())
		defer cancel()

		cache := convosync.NewConversationCache(s.client)
		if err := cache.Load(ctx, s.cfg.Auth.UserID); err != nil {
			return err
		}

		if conversationsJSON {
			return printJSON(cmd.OutOrStdout(), cache.List())
		}
		printConversations(cmd.OutOrStdout(), cache.List(), s.cfg.Auth.UserID)
		return nil
	},
}

func printConversations(w io.Writer, convs []convosync.Conversation, userID string) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWITH\tMISSION\tLAST ACTIVITY\tLAST MESSAGE")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.Counterpart(userID),
			valueOrDefault(c.MissionID, "-"),
			formatTime(c.LastActivity),
			truncate(c.LastMessage, 48),
		)
	}
	_ = tw.Flush()
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's messages in chronological order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		convID := args[0]
		ctx, cancel := context.WithTimeout(cmd.Context(), s.callTimeout())
		defer cancel()

		cache := convosync.NewMessageCache(s.client)
		cache.Open(convID)
		if err := cache.Load(ctx, convID); err != nil {
			return err
		}

		if messagesMarkRead {
			convosync.NewReadStateTracker(s.client, s.logger).MarkRead(ctx, convID, s.cfg.Auth.UserID)
		}

		if messagesJSON {
			return printJSON(cmd.OutOrStdout(), cache.List())
		}
		msgs := cache.List()
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(cmd.OutOrStdout(), m, s.cfg.Auth.UserID)
		}
		return nil
	},
}

// printMessage writes one rendered message line.
func printMessage(w io.Writer, m convosync.Message, viewerID string) {
	r := convosync.RenderFor(m, viewerID)

	if r.Centered {
		fmt.Fprintf(w, "          -- %s --\n", r.Body)
		return
	}

	author := valueOrDefault(r.Author, m.AuthorID)
	if r.FromSelf {
		author = "moi"
	}

	var b strings.Builder
	b.WriteString(r.Body)
	if r.PriceSuffix != "" {
		b.WriteString(" [" + r.PriceSuffix + "]")
	}
	if r.Comparison != "" {
		b.WriteString(" [" + r.Comparison + "]")
	}
	if r.LinkURL != "" {
		b.WriteString(" <" + r.LinkLabel + ": " + r.LinkURL + ">")
	}

	read := ""
	if r.FromSelf && r.Read {
		read = " ✓"
	}
	fmt.Fprintf(w, "%s  %s: %s%s\n", formatTime(r.At), author, b.String(), read)
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text]",
	Short: "Send a text message or an attachment",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		composer := convosync.NewComposer(s.client, s.cfg.Auth.UserID)
		if len(args) == 2 {
			composer.SetText(args[1])
		}
		if sendAttachmentURL != "" || sendAttachmentName != "" {
			if err := composer.SetAttachment(convosync.Attachment{
				URL:  sendAttachmentURL,
				Name: sendAttachmentName,
			}); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), s.callTimeout())
		defer cancel()

		msg, err := composer.Send(ctx, args[0])
		if err != nil {
			return err
		}

		if sendJSON {
			return printJSON(cmd.OutOrStdout(), msg)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message sent (id: %s)\n", msg.ID)
		return nil
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("02/01 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")

	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")
	messagesCmd.Flags().BoolVar(&messagesMarkRead, "mark-read", false, "Mark the counterparty's messages as read")

	sendCmd.Flags().StringVar(&sendAttachmentURL, "attachment-url", "", "URL of an already uploaded file")
	sendCmd.Flags().StringVar(&sendAttachmentName, "attachment-name", "", "Display name of the attachment")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
}
