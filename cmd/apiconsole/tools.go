package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nugget/apiconsole/internal/auth"
	"github.com/nugget/apiconsole/internal/buildinfo"
	"github.com/nugget/apiconsole/internal/command"
	"github.com/nugget/apiconsole/internal/session"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text>",
		Short: "Print the intent a command parses to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}
}

func runParse(w io.Writer, text string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(command.Parse(text))
}

func newTokenCmd(g *globalFlags) *cobra.Command {
	var (
		id     auth.Identity
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Mint a bearer token for a made-up identity, signed with the configured
auth.jwt_secret (or --secret). Useful with "send" and curl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id.ID == "" || id.Email == "" {
				return errors.New("--sub and --email are required")
			}
			issuer := "apiconsole"
			if secret == "" {
				cfg, _, err := loadConfig(g.configPath)
				if err != nil {
					return err
				}
				secret, issuer = cfg.Auth.JWTSecret, cfg.Auth.Issuer
				if ttl == 0 {
					ttl = cfg.Auth.AccessTTL
				}
			}
			if secret == "" {
				return errors.New("no signing secret: set auth.jwt_secret or pass --secret")
			}
			if ttl == 0 {
				ttl = time.Hour
			}
			return runToken(cmd.OutOrStdout(), auth.NewSigner(secret, issuer, ttl), id)
		},
	}
	cmd.Flags().StringVar(&id.ID, "sub", "", "user id (token subject)")
	cmd.Flags().StringVar(&id.Email, "email", "", "user email")
	cmd.Flags().StringVar(&id.Name, "name", "", "display name")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default: auth.jwt_secret)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.access_ttl)")
	return cmd
}

func runToken(w io.Writer, signer *auth.Signer, id auth.Identity) error {
	token, _, err := signer.Issue(id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// sendStyles renders send output. Built per writer so colour is only
// emitted when w is a terminal.
type sendStyles struct {
	ok, fail, muted, header lipgloss.Style
}

func newSendStyles(w io.Writer) sendStyles {
	r := lipgloss.NewRenderer(w)
	return sendStyles{
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("243")),
		header: r.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
	}
}

// errCommandFailed is returned by send when the gate reports an error
// status, so the process exits non-zero.
var errCommandFailed = errors.New("command failed")

func newSendCmd() *cobra.Command {
	var (
		server  string
		token   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Run one command over the WebSocket and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("APICONSOLE_TOKEN")
			}
			if token == "" {
				return errors.New("no token: pass --token or set APICONSOLE_TOKEN")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runSend(ctx, cmd.OutOrStdout(), server, token, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:3001", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default: $APICONSOLE_TOKEN)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

func runSend(ctx context.Context, w io.Writer, serverURL, token, text string) error {
	st := newSendStyles(w)

	client := session.NewClient(serverURL, token, nil)
	welcome, err := client.Connect(ctx)
	if err != nil {
		if errors.Is(err, session.ErrAuthFailed) {
			fmt.Fprintln(w, st.fail.Render("✗ "+welcome.Error))
		}
		return err
	}
	defer client.Close()
	fmt.Fprintln(w, st.muted.Render(welcome.Message))

	frames, err := client.Do(ctx, text)
	failed := false
	for _, f := range frames {
		switch f.Event {
		case session.EventCommandStatus:
			var s session.CommandStatus
			if json.Unmarshal(f.Data, &s) != nil {
				continue
			}
			switch s.Status {
			case session.StatusSuccess:
				fmt.Fprintln(w, st.ok.Render("✓ success"))
			case session.StatusError:
				failed = true
				fmt.Fprintln(w, st.fail.Render("✗ "+s.Error))
			}
		case session.EventAPIResponse:
			var resp struct {
				Command string          `json:"command"`
				API     string          `json:"api"`
				Result  json.RawMessage `json:"result"`
			}
			if json.Unmarshal(f.Data, &resp) != nil {
				continue
			}
			fmt.Fprintln(w, st.header.Render(fmt.Sprintf("[%s] %s", resp.API, resp.Command)))
			var pretty strings.Builder
			if err := indentJSON(&pretty, resp.Result); err != nil {
				pretty.Reset()
				pretty.Write(resp.Result)
			}
			fmt.Fprintln(w, pretty.String())
		}
	}
	if err != nil {
		return err
	}
	if failed {
		return errCommandFailed
	}
	return nil
}

func indentJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func newVersionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd.OutOrStdout(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}
