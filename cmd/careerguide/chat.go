package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ashureev/careerguide/internal/chat"
	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const quitCommand = "/quit"

func (c *cli) chatCmd() *cobra.Command {
	var markdown bool
	var width int
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the career assistant",
		Long: `Talk to the career assistant.

With a message argument, one exchange is streamed and the command exits.
Without one, an interactive conversation starts; Ctrl-C stops the reply in
progress and ` + quitCommand + ` (or Ctrl-C at the prompt) leaves.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c.app.session.Bootstrap(ctx)
			if !c.app.session.IsAuthenticated() {
				return errors.New("not signed in, run `careerguide login`")
			}

			r := &chatRunner{cli: c, consumer: c.app.newConsumer(), markdown: markdown, width: width}
			if len(args) > 0 {
				return r.once(ctx, strings.Join(args, " "))
			}
			return r.interactive(ctx)
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render completed replies as markdown instead of streaming raw text")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width for markdown rendering")
	return cmd
}

type chatRunner struct {
	*cli
	consumer *chat.Consumer
	markdown bool
	width    int
	printed  int
}

// attach prints streamed text as it arrives.
func (r *chatRunner) attach() {
	r.consumer.OnUpdate(func(u chat.Update) {
		if r.markdown || u.State != chat.StateStreaming {
			return
		}
		if len(u.Content) > r.printed {
			fmt.Fprint(r.out, u.Content[r.printed:])
			r.printed = len(u.Content)
		}
	})
}

// exchange runs one Send, cancelling it on interrupt.
func (r *chatRunner) exchange(ctx context.Context, text string, interrupts <-chan os.Signal) error {
	r.printed = 0
	if r.markdown {
		fmt.Fprintln(r.out, mutedStyle.Render("thinking..."))
	}

	done := make(chan struct{})
	var (
		reply string
		err   error
	)
	go func() {
		defer close(done)
		reply, err = r.consumer.Send(ctx, text)
	}()

	select {
	case <-done:
	case <-interrupts:
		r.consumer.Cancel()
		<-done
	}

	switch {
	case err == nil:
		if r.markdown {
			fmt.Fprintln(r.out, renderMarkdown(reply, r.width))
		} else {
			fmt.Fprintln(r.out)
		}
		return nil
	case errors.Is(err, chat.ErrCancelled):
		if r.markdown && reply != "" {
			fmt.Fprintln(r.out, renderMarkdown(reply, r.width))
		}
		fmt.Fprintln(r.out, mutedStyle.Render("\n(stopped)"))
		return nil
	default:
		r.app.logger.Debug("chat exchange failed", zap.Error(err))
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, errorStyle.Render(chat.ErrorMarker))
		return err
	}
}

func (r *chatRunner) once(ctx context.Context, text string) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	r.attach()
	return r.exchange(ctx, text, interrupts)
}

func (r *chatRunner) interactive(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	// A sign-out from another process or a failed renewal ends the
	// conversation.
	ended := make(chan struct{})
	unsubscribe := r.app.session.OnChange(func(s session.State) {
		if s.Status == domain.StatusAnonymous {
			select {
			case <-ended:
			default:
				close(ended)
			}
		}
	})
	defer unsubscribe()

	go func() {
		if err := r.app.watch(ctx); err != nil && ctx.Err() == nil {
			r.app.logger.Warn("session watcher stopped", zap.Error(err))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := r.in.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	r.attach()
	id := r.app.session.CurrentIdentity()
	fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("Chatting as %s. Type %s to leave.", id.Name(), quitCommand)))

	for {
		fmt.Fprint(r.out, promptStyle.Render("you> "))
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(r.out)
			return nil
		case <-ended:
			fmt.Fprintln(r.out)
			return errors.New("your session has ended, run `careerguide login`")
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
				continue
			case text == quitCommand:
				return nil
			}

			fmt.Fprint(r.out, promptStyle.Render("assistant> "))
			if err := r.exchange(ctx, text, interrupts); err != nil && !errors.Is(err, chat.ErrStreamFailed) {
				return err
			}
		}
	}
}
