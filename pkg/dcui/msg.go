package dcui

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "modbot/internal/transport"
)

// MaxMessageLen is Discord's hard limit for a single message.
const MaxMessageLen = 2000

// Message is a rendered UI payload: text + send options.
// Plugins build it once and send it without repeating option boilerplate.
type Message struct {
	Text string
	Opt  *kit.SendOptions

	// More are additional messages to send after the first one, used when a
	// preformatted block doesn't fit into a single Discord message.
	More []string
}

// Send sends the Message via the provided adapter.
// Reply references and embeds are only attached to the first message.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	ref, err := ad.SendText(ctx, to, m.Text, m.Opt)
	if err != nil {
		return ref, err
	}
	for _, t := range m.More {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, e := ad.SendText(ctx, to, t, nil); e != nil {
			return ref, e
		}
	}
	return ref, nil
}

// Builder is the main ergonomic UI builder.
type Builder struct {
	opt   kit.SendOptions
	lines []string
	more  []string
}

func New() *Builder { return &Builder{} }

// ReplyTo makes the first message a reply to ref.
func (b *Builder) ReplyTo(ref kit.MessageRef) *Builder {
	r := ref
	b.opt.ReplyTo = &r
	return b
}

// Embed attaches an embed to the first message.
func (b *Builder) Embed(e kit.Embed) *Builder {
	cp := e
	b.opt.Embed = &cp
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := "**" + Esc(t) + "**"
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Section adds a bold section header.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	b.lines = append(b.lines, "**"+Esc(t)+"**")
	return b
}

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s))
	return b
}

// RawLine appends a line without escaping. Only use with trusted markdown.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds bullet lines.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.lines = append(b.lines, "• "+Esc(it))
	}
	return b
}

// KV adds a "key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return b
	}
	if value == "" {
		b.lines = append(b.lines, "• **"+Esc(key)+"**")
	} else {
		b.lines = append(b.lines, "• **"+Esc(key)+"**: "+Esc(value))
	}
	return b
}

// Code adds an inline code line.
func (b *Builder) Code(s string) *Builder {
	s = strings.TrimSpace(s)
	if s == "" {
		return b
	}
	b.lines = append(b.lines, "`"+strings.ReplaceAll(s, "`", "'")+"`")
	return b
}

// Pre adds a fenced code block. Content longer than a single message is
// split into follow-up messages, each individually fenced.
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}

	const fenceOverhead = 8 // len("```\n") + len("\n```")
	eff := MaxMessageLen - fenceOverhead - 64

	first := true
	for start := 0; start < len(code); {
		runes := 0
		end := start
		lastNL := -1
		for end < len(code) && runes < eff {
			r, size := utf8.DecodeRuneInString(code[end:])
			if r == '\n' {
				lastNL = end + size
			}
			runes++
			end += size
		}
		if end < len(code) && lastNL > start {
			end = lastNL
		}
		chunk := "```\n" + strings.TrimRight(code[start:end], "\n") + "\n```"
		if first {
			b.lines = append(b.lines, chunk)
			first = false
		} else {
			b.more = append(b.more, chunk)
		}
		start = end
		for start < len(code) && code[start] == '\n' {
			start++
		}
	}
	return b
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	opt := b.opt
	return Message{Text: text, Opt: &opt, More: append([]string(nil), b.more...)}
}
