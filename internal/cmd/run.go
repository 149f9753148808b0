package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/agentround/agentround/internal/client"
	agentlog "github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/proto"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
)

const defaultFollowUp = "Continue the discussion. Respond to the points the other participants raised."

func init() {
	runCmd.Flags().StringArrayP("model", "m", nil, "Model to seat at the table (repeatable, in speaking order)")
	runCmd.Flags().IntP("rounds", "r", 1, "Number of rounds to run")
	runCmd.Flags().String("follow-up", defaultFollowUp, "User input for every round after the first")
	runCmd.Flags().Bool("keep", false, "Leave the session open instead of ending it")
}

var runCmd = &cobra.Command{
	Use:   "run [topic...]",
	Short: "Run a roundtable discussion on a topic",
	Long: heredoc.Doc(`
		Run a roundtable discussion and stream the answers to stdout.

		The topic can be provided as arguments or piped from stdin. A server is
		started in the background when none answers on the host.
	`),
	Example: heredoc.Doc(`
		# Two models, one round
		agentround run -m openai/gpt-4o -m anthropic/claude-sonnet "Is Pluto a planet?"

		# Three rounds, topic from stdin
		cat question.txt | agentround run -m ollama/llama3 -m openai/gpt-4o --rounds 3
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		models, _ := cmd.Flags().GetStringArray("model")
		rounds, _ := cmd.Flags().GetInt("rounds")
		followUp, _ := cmd.Flags().GetString("follow-up")
		keep, _ := cmd.Flags().GetBool("keep")

		if len(models) == 0 {
			return fmt.Errorf("at least one model is required (-m)")
		}
		if rounds < 1 {
			return fmt.Errorf("rounds must be at least 1")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		agentlog.Setup(cfg.LogFile(), cfg.Debug)

		topic := strings.TrimSpace(strings.Join(args, " "))
		if topic == "" {
			topic, err = readStdin()
			if err != nil {
				slog.Error("Failed to read from stdin", "error", err)
				return err
			}
		}
		if topic == "" {
			return fmt.Errorf("no topic provided")
		}

		host := resolveHost(cmd, cfg)
		c, err := client.NewClientHost(host)
		if err != nil {
			return fmt.Errorf("invalid host URL: %v", err)
		}

		ctx := cmd.Context()
		if err := ensureServer(ctx, cmd, c, host); err != nil {
			return err
		}

		sess, err := c.CreateSession(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		slog.Info("Created session", "session_id", sess.ID, "models", sess.Models)

		out := cmd.OutOrStdout()
		p := &roundPrinter{out: out, errOut: cmd.ErrOrStderr()}
		for i := range rounds {
			if i == 0 {
				_, err = c.StartRound(ctx, sess.ID, topic)
			} else {
				_, err = c.ContinueRound(ctx, sess.ID, followUp)
			}
			if err != nil {
				return fmt.Errorf("failed to open round %d: %w", i+1, err)
			}
			if err := c.StreamRound(ctx, sess.ID, p.handle); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stream failed: %w", err)
			}
		}

		if keep {
			fmt.Fprintf(out, "\nSession %s left open.\n", sess.ID)
			return nil
		}

		ended, err := c.EndSession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		title := ended.Title
		if title == "" {
			title = p.title
		}
		if title != "" {
			fmt.Fprintf(out, "\nSession %s: %s\n", ended.ID, title)
		}
		return nil
	},
}

// roundPrinter writes stream events as plain text.
type roundPrinter struct {
	out    io.Writer
	errOut io.Writer
	title  string
}

func (p *roundPrinter) handle(ev proto.StreamEvent) error {
	switch data := ev.Data.(type) {
	case proto.RoundStart:
		fmt.Fprintf(p.out, "\n## Round %d\n", data.Round)
	case proto.ModelStart:
		fmt.Fprintf(p.out, "\n### %s\n\n", data.DisplayName)
	case proto.Token:
		fmt.Fprint(p.out, data.Content)
	case proto.ModelEnd:
		if data.Status != proto.StatusSuccess {
			fmt.Fprintf(p.out, "\n[%s]", data.Status)
		}
		fmt.Fprintln(p.out)
	case proto.ModelError:
		fmt.Fprintf(p.errOut, "\n%s failed: %s\n", data.Model, data.Error)
	case proto.TitleGenerated:
		p.title = data.Title
	}
	return nil
}

// ensureServer starts a detached server on host when nothing answers there
// and waits for it to become healthy.
func ensureServer(ctx context.Context, cmd *cobra.Command, c *client.Client, host string) error {
	if err := c.Health(ctx); err == nil {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %v", err)
	}

	args := []string{"serve", "--host", host, "--cwd", wd}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	if file, _ := cmd.Flags().GetString("config"); file != "" {
		args = append(args, "--config", file)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		args = append(args, "--debug")
	}

	proc := exec.Command(exe, args...)
	detachProcess(proc)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start server: %v", err)
	}
	slog.Info("Started server", "pid", proc.Process.Pid, "host", host)
	if err := proc.Process.Release(); err != nil {
		slog.Warn("Failed to release server process", "error", err)
	}

	b := retry.WithMaxDuration(10*time.Second, retry.NewConstant(100*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		return retry.RetryableError(c.Health(ctx))
	})
	if err != nil {
		return fmt.Errorf("server did not become ready on %s: %w", host, err)
	}
	return nil
}
