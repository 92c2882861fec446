package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grim-sudo/Automation/internal/session"
)

const chatHelp = `Type a command, or:
  :checkpoint        save this session
  :restore <id>      continue from a checkpoint
  :sessions          list this session's checkpoints
  :plan <command>    show the plan without running it
  :quit              leave`

// runChat reads commands line by line until EOF or :quit. Each line is one
// turn of the same session.
func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	c := &chat{
		app:     a,
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
		render:  newRenderer(cmd.OutOrStdout(), verbose || isDryRun()),
		session: sessionID,
	}
	return c.loop()
}

type chat struct {
	app     *app
	in      io.Reader
	out     io.Writer
	render  *renderer
	session string
}

func (c *chat) loop() error {
	fmt.Fprintln(c.out, color.CyanString("omni")+" - type :help for commands")
	sc := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, color.GreenString("> "))
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if done := c.command(line); done {
				return nil
			}
			continue
		}
		c.turn(line)
	}
}

func (c *chat) turn(line string, opts ...session.Option) {
	ctx, cancel := signalContext()
	defer cancel()

	res := c.app.manager.HandleTurn(ctx, line, c.session, opts...)
	if c.session == "" {
		c.session = res.SessionID
		logger.Debug("Chat session started", zap.String("session", c.session))
	}
	c.render.Turn(res)
}

// command handles a colon command and reports whether the chat should end.
func (c *chat) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	ctx, cancel := signalContext()
	defer cancel()

	switch name {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Fprintln(c.out, chatHelp)
	case ":plan":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: :plan <command>")
			return false
		}
		c.turn(arg, session.PlanOnly())
	case ":checkpoint":
		if c.session == "" {
			fmt.Fprintln(c.out, "Nothing to save yet")
			return false
		}
		id, err := c.app.manager.Checkpoint(ctx, c.session)
		if err != nil {
			fmt.Fprintln(c.out, color.RedString("checkpoint failed: %v", err))
			return false
		}
		fmt.Fprintf(c.out, "Saved checkpoint %s\n", id)
	case ":restore":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: :restore <checkpoint-id>")
			return false
		}
		id, err := c.app.manager.Restore(ctx, arg)
		if err != nil {
			fmt.Fprintln(c.out, color.RedString("restore failed: %v", err))
			return false
		}
		c.session = id
		fmt.Fprintf(c.out, "Restored session %s\n", id)
	case ":sessions":
		if c.session == "" {
			fmt.Fprintln(c.out, "No checkpoints")
			return false
		}
		infos, err := c.app.manager.Checkpoints(ctx, c.session)
		if err != nil {
			fmt.Fprintln(c.out, color.RedString("%v", err))
			return false
		}
		c.render.Checkpoints(infos)
	default:
		fmt.Fprintf(c.out, "Unknown command %s\n%s\n", name, chatHelp)
	}
	return false
}
