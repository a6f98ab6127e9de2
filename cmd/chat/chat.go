package main

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

	"chat-studio-core/internal/chat"
	"chat-studio-core/internal/events"
	"chat-studio-core/internal/model"

	"github.com/spf13/cobra"
)

var (
	sessionFlag     string
	modelFlag       string
	uploadFlag      string
	contentTypeFlag string
)

// session 一次命令行会话：控制器、渲染和实时输出
type session struct {
	ctrl    *chat.Controller
	render  *renderer
	printer *livePrinter
}

func newSession(out io.Writer) *session {
	c := newClient()
	bus := events.NewBus()
	r := newRenderer(out)
	s := &session{
		ctrl:    chat.NewController(c, c, c, bus),
		render:  r,
		printer: &livePrinter{r: r},
	}

	s.ctrl.Store().Subscribe(s.printer.update)
	bus.Subscribe(func(ev events.Event) {
		r.notice(ev.Message, ev.Err)
	}, events.Notice)
	bus.Subscribe(func(ev events.Event) {
		r.println(r.muted.Render("新会话 " + ev.SessionID))
	}, events.SessionCreated)
	return s
}

func parseModel(v string) (*model.ModelRef, error) {
	if v == "" {
		return nil, nil
	}
	providerID, modelName, ok := strings.Cut(v, "/")
	if !ok || providerID == "" || modelName == "" {
		return nil, fmt.Errorf("invalid model %q, want providerId/modelName", v)
	}
	return &model.ModelRef{ProviderID: providerID, ModelName: modelName}, nil
}

// send 提交一条消息并等待回复结束；Ctrl-C 只停止当前回复
func (s *session) send(ctx context.Context, req chat.SubmitRequest) error {
	a, err := s.ctrl.Submit(ctx, req)
	if err != nil {
		return err
	}
	s.printer.attach(a.Key())

	waitCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	status, err := a.Wait(waitCtx)
	stop()
	if err != nil {
		s.ctrl.Cancel()
		status, _ = a.Wait(context.Background())
	}

	final, _ := s.ctrl.Store().Get(a.Key())
	s.printer.finish(final, status)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	s := newSession(cmd.OutOrStdout())
	if sessionFlag != "" {
		if err := s.ctrl.SelectSession(ctx, sessionFlag); err != nil {
			return err
		}
	}
	ref, err := parseModel(modelFlag)
	if err != nil {
		return err
	}
	if ref != nil {
		s.ctrl.SelectModel(*ref)
	}

	if len(args) > 0 {
		req := chat.SubmitRequest{Prompt: strings.Join(args, " ")}
		if uploadFlag != "" {
			req.Upload = &model.Upload{ID: uploadFlag, ContentType: model.ContentType(strings.ToUpper(contentTypeFlag))}
		}
		return s.send(ctx, req)
	}

	if sessionFlag != "" {
		for _, m := range s.ctrl.Messages() {
			s.render.message(m)
		}
	}
	return s.repl(ctx, cmd.InOrStdin())
}

func (s *session) repl(ctx context.Context, in io.Reader) error {
	if _, err := s.ctrl.RefreshConversations(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(s.render.out, s.render.userHeader()+" > ")
		if !scanner.Scan() {
			fmt.Fprintln(s.render.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			quit, err := s.command(ctx, line)
			if err != nil {
				s.render.notice("命令失败", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := s.send(ctx, chat.SubmitRequest{Prompt: line}); err != nil {
			if errors.Is(err, chat.ErrEmptyPrompt) {
				continue
			}
			s.render.notice("发送失败", err)
		}
	}
}

func (s *session) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "q", "exit":
		return true, nil
	case "new":
		s.ctrl.NewConversation()
		s.render.println(s.render.muted.Render("下一条消息将开始新会话"))
	case "sessions":
		list, err := s.ctrl.RefreshConversations(ctx)
		if err != nil {
			return false, err
		}
		s.render.sessions(list)
	case "open":
		if arg == "" {
			return false, fmt.Errorf("usage: :open <id>")
		}
		if err := s.ctrl.SelectSession(ctx, arg); err != nil {
			return false, err
		}
		for _, m := range s.ctrl.Messages() {
			s.render.message(m)
		}
	case "model":
		if arg == "" {
			models, err := s.ctrl.Models(ctx)
			if err != nil {
				return false, err
			}
			s.render.models(models, s.ctrl.CurrentModel(ctx))
			return false, nil
		}
		ref, err := parseModel(arg)
		if err != nil {
			return false, err
		}
		s.ctrl.SelectModel(*ref)
	default:
		return false, fmt.Errorf("unknown command :%s", name)
	}
	return false, nil
}
