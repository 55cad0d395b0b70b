package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"chatbridge/internal/actions"
	"chatbridge/internal/chatsession"
	"chatbridge/internal/errors"
	"chatbridge/internal/notify"
	"chatbridge/internal/overlay"
	"chatbridge/pkg/stream/types"
)

const helpText = `Commands:
  /list          show visible messages
  /hide N        hide message N for you only
  /delete N      delete your message N for everyone
  /clear         clear the whole chat for both participants
  /confirm       perform the pending action
  /cancel        drop the pending action
  /call          send a video call link
  /quit          leave
Anything else is sent as a message.`

// console serializes writes from the prompt loop and event callbacks
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// notifier renders notifications as console lines
func (c *console) notifier() notify.Notifier {
	return notify.Func(func(n notify.Notification) {
		mark := "+"
		if n.Level == notify.LevelError {
			mark = "!"
		}
		c.printf("[%s] %s\n", mark, n.Message)
	})
}

// repl drives one Ready chat session from line input
type repl struct {
	session *chatsession.Session
	flow    *actions.Flow
	overlay *overlay.Overlay
	log     *transcript
	console *console
	origin  string
}

func newREPL(session *chatsession.Session, flow *actions.Flow, ov *overlay.Overlay, con *console, origin string) *repl {
	var initial []types.Message
	if session.Initial != nil {
		initial = session.Initial.Messages
	}
	return &repl{
		session: session,
		flow:    flow,
		overlay: ov,
		log:     newTranscript(session.Channel.CID(), initial),
		console: con,
		origin:  origin,
	}
}

// follow mirrors realtime events into the transcript until the returned
// func is called
func (r *repl) follow() func() {
	return r.session.Client.Subscribe(func(ev types.Event) {
		if !r.log.apply(ev) {
			return
		}
		switch ev.Type {
		case types.EventMessageNew:
			if ev.Message.AuthorID() != r.session.User.ID {
				r.console.printf("%s: %s\n", authorName(*ev.Message), ev.Message.Text)
			}
		case types.EventChannelTruncated:
			r.console.printf("(chat was cleared)\n")
		}
	})
}

// visible returns the messages not hidden by the local user
func (r *repl) visible(ctx context.Context) []types.Message {
	return r.overlay.Visible(ctx, r.session.ChannelID, r.log.snapshot())
}

// run reads commands until EOF, /quit or ctx is done
func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	r.list(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if quit := r.handle(ctx, strings.TrimSpace(scanner.Text())); quit {
			return nil
		}
	}
}

// handle executes one input line and reports whether to quit
func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		r.console.printf("%s\n", helpText)
	case "/list":
		r.list(ctx)
	case "/hide":
		r.request(ctx, actions.HideForMe, fields[1:])
	case "/delete":
		r.request(ctx, actions.DeleteForEveryone, fields[1:])
	case "/clear":
		r.request(ctx, actions.ClearChannel, nil)
	case "/confirm":
		// action failures are already reported by the notifier
		err := r.flow.Confirm(ctx)
		if code := errors.GetCode(err); code == errors.ErrCodeInvalidInput || code == errors.ErrCodeNotConnected {
			r.console.printf("%s\n", describe(err))
		}
	case "/cancel":
		r.flow.Cancel()
		r.console.printf("Cancelled\n")
	case "/call":
		if msg, err := r.session.SendCallLink(ctx, r.origin); err == nil {
			r.log.add(*msg)
		}
	default:
		r.console.printf("Unknown command %q, try /help\n", fields[0])
	}
	return false
}

func (r *repl) send(ctx context.Context, text string) {
	msg, err := r.session.Send(ctx, text)
	if err != nil {
		r.console.printf("[!] %s\n", describe(err))
		return
	}
	r.log.add(*msg)
}

func (r *repl) list(ctx context.Context) {
	msgs := r.visible(ctx)
	if len(msgs) == 0 {
		r.console.printf("(no messages)\n")
		return
	}
	for i, m := range msgs {
		r.console.printf("%3d  %s: %s\n", i+1, authorName(m), m.Text)
	}
}

// request records an action against the Nth visible message and asks for confirmation
func (r *repl) request(ctx context.Context, kind actions.Kind, args []string) {
	var target *types.Message
	if kind != actions.ClearChannel {
		msg, err := r.pick(ctx, args)
		if err != nil {
			r.console.printf("%s\n", err)
			return
		}
		target = &msg
	}

	if err := r.flow.Request(kind, target); err != nil {
		r.console.printf("%s\n", describe(err))
		return
	}
	r.console.printf("%s\nType /confirm or /cancel\n", kind.Prompt())
}

func (r *repl) pick(ctx context.Context, args []string) (types.Message, error) {
	if len(args) != 1 {
		return types.Message{}, fmt.Errorf("usage: /hide N or /delete N")
	}
	n, err := strconv.Atoi(args[0])
	msgs := r.visible(ctx)
	if err != nil || n < 1 || n > len(msgs) {
		return types.Message{}, fmt.Errorf("no message %q, see /list", args[0])
	}
	return msgs[n-1], nil
}

func authorName(m types.Message) string {
	if m.User == nil {
		return "unknown"
	}
	if m.User.Name != "" {
		return m.User.Name
	}
	return m.User.ID
}

// describe returns the most specific human readable text for err
func describe(err error) string {
	appErr, ok := errors.As(err)
	if !ok {
		return err.Error()
	}
	if appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return appErr.Message
}
