package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"chat-studio-core/internal/convert"
	"chat-studio-core/internal/model"

	"github.com/charmbracelet/lipgloss"
)

type renderer struct {
	out io.Writer

	user      lipgloss.Style
	assistant lipgloss.Style
	thinking  lipgloss.Style
	muted     lipgloss.Style
	success   lipgloss.Style
	failure   lipgloss.Style
	pending   lipgloss.Style
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:       out,
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		thinking:  lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")).PaddingLeft(2),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		success:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		failure:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func (r *renderer) println(s string) {
	fmt.Fprintln(r.out, s)
}

func (r *renderer) notice(msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	r.println(r.failure.Render("! " + msg))
}

func (r *renderer) userHeader() string {
	return r.user.Render("你")
}

func (r *renderer) assistantHeader() string {
	return r.assistant.Render("助手")
}

// message 渲染一条完整的消息，用于历史记录
func (r *renderer) message(m model.Message) {
	if m.Role == model.RoleUser {
		r.println(r.userHeader())
		r.println(m.Content)
		if m.Attachment != nil {
			r.println(r.muted.Render(fmt.Sprintf("[%s] %s", m.Attachment.ContentType, m.Attachment.URL)))
		}
		r.println("")
		return
	}

	r.println(r.assistantHeader())
	if m.Thinking != "" {
		r.println(r.thinking.Render(m.Thinking))
	}
	r.tools(m)
	if m.Content != "" {
		r.println(m.Content)
	}
	r.println("")
}

// tools 每个工具调用一行，带执行状态
func (r *renderer) tools(m model.Message) {
	for _, req := range m.ToolRequests {
		line := fmt.Sprintf("⚙ %s(%s)", req.Name, req.Argument)
		switch convert.ToolStatusOf(req, m.ToolResults) {
		case model.ToolSuccess:
			r.println(r.success.Render(line + " ✓"))
			for _, res := range m.ToolResults {
				if res.ID == req.ID && res.Text != "" {
					r.println(r.muted.Render("  → " + res.Text))
				}
			}
		case model.ToolError:
			r.println(r.failure.Render(line + " ✗"))
		default:
			r.println(r.pending.Render(line + " …"))
		}
	}
}

// status 失败由控制器的 Notice 事件提示，这里只标记停止
func (r *renderer) status(status model.Status) {
	if status == model.StatusAborted {
		r.println(r.muted.Render("(已停止)"))
	}
}

func (r *renderer) sessions(list []model.SessionSummary) {
	if len(list) == 0 {
		r.println(r.muted.Render("没有会话"))
		return
	}
	for _, s := range list {
		updated := time.UnixMilli(s.UpdatedAt).Format(time.DateTime)
		r.println(fmt.Sprintf("%s  %s  %s", r.muted.Render(s.SessionID), s.SessionTitle, r.muted.Render(updated)))
	}
}

func (r *renderer) models(providers []model.ModelProvider, current *model.ModelRef) {
	for _, p := range providers {
		r.println(r.assistant.Render(fmt.Sprintf("%s (%s)", p.ProviderName, p.ProviderID)))
		for _, m := range p.Models {
			mark := " "
			if current != nil && current.ProviderID == p.ProviderID && current.ModelName == m.ModelName {
				mark = "*"
			}
			name := m.ModelName
			if m.DisplayName != "" {
				name += " " + r.muted.Render(m.DisplayName)
			}
			r.println(fmt.Sprintf(" %s %s", mark, name))
		}
	}
}

// livePrinter 订阅消息存储，把正在生成的助手回复的新增正文打印出来。
// 正文被重新推导而不再以已打印内容开头时，等结束后由 finish 补全。
type livePrinter struct {
	mu      sync.Mutex
	r       *renderer
	key     string
	printed string
}

func (p *livePrinter) attach(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = key
	p.printed = ""
	p.r.println(p.r.assistantHeader())
}

func (p *livePrinter) update(entries []*model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key == "" {
		return
	}

	for _, m := range entries {
		if m.Key != p.key {
			continue
		}
		if strings.HasPrefix(m.Content, p.printed) {
			fmt.Fprint(p.r.out, m.Content[len(p.printed):])
			p.printed = m.Content
		}
		return
	}
}

// finish 结束实时输出，补充思考过程和工具调用的摘要
func (p *livePrinter) finish(final model.Message, status model.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if final.Content != p.printed && strings.HasPrefix(final.Content, p.printed) {
		fmt.Fprint(p.r.out, final.Content[len(p.printed):])
	}
	if p.printed != "" || final.Content != "" {
		p.r.println("")
	}
	if final.Thinking != "" {
		p.r.println(p.r.thinking.Render("思考：" + final.Thinking))
	}
	p.r.tools(final)
	p.r.status(status)
	p.r.println("")
	p.key = ""
}
