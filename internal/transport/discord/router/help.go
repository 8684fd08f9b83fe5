package router

import (
	"sort"
	"strings"
)

// helpText renders Discord-friendly help using markdown code spans.
func (m *Manager) helpText(path []string, prefix string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok2 := alias[p]; ok2 && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "unknown command. try `" + prefix + "help`"
		}
		cur = n
		full = append(full, p)
	}

	if len(path) == 0 {
		return m.helpTop(root, prefix)
	}
	return m.helpNode(cur, full, prefix)
}

type topRow struct {
	name string
	desc string
	lock bool
}

func (m *Manager) helpTop(root *cmdNode, prefix string) string {
	names := root.childNames()
	rows := make([]topRow, 0, len(names))
	for _, name := range names {
		n, _ := root.child(name)
		if n == nil {
			continue
		}
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), lock: nodeIsModOnly(n)})
	}
	// Moderator-only commands at the bottom, alphabetical within groups.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock && rows[j].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"**Commands**",
		"Type `" + prefix + "help <cmd>` for details.",
		"",
	}
	for _, r := range rows {
		suffix := ""
		if r.desc != "" {
			suffix = " — " + r.desc
		}
		bullet := "• "
		if r.lock {
			bullet = "• 🔒 "
		}
		lines = append(lines, bullet+"`"+prefix+r.name+"`"+suffix)
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func (m *Manager) helpNode(cur *cmdNode, full []string, prefix string) string {
	title := prefix + strings.Join(full, " ")
	lines := []string{"**Help** `" + title + "`"}

	if cur != nil && cur.cmd != nil {
		c := cur.cmd
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
		if c.Access == AccessModerator {
			lines = append(lines, "🔒 *moderators only*")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "**Usage**", "`"+prefix+u+"`")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "**Aliases**")
			for _, a := range c.Aliases {
				lines = append(lines, "• `"+prefix+a+"`")
			}
		}
	} else {
		lines = append(lines, "Command group (has subcommands).")
		if nodeIsModOnly(cur) {
			lines = append(lines, "🔒 *moderators only*")
		}
	}

	if cur != nil && len(cur.children) > 0 {
		lines = append(lines, "", "**Subcommands**")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			if n == nil {
				continue
			}
			path := append(append([]string(nil), full...), name)
			suffix := ""
			if d := summarizeNodeDesc(n); d != "" {
				suffix = " — " + d
			}
			bullet := "• "
			if nodeIsModOnly(n) {
				bullet = "• 🔒 "
			}
			lines = append(lines, bullet+"`"+prefix+strings.Join(path, " ")+"`"+suffix)
		}
	}

	return strings.Join(filterEmpty(lines), "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	if len(n.children) == 0 {
		return ""
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	max := 3
	if len(kids) < max {
		max = len(kids)
	}
	s := strings.Join(kids[:max], ", ")
	if len(kids) > max {
		s += ", …"
	}
	return "subcommands: " + s
}

func nodeIsModOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessModerator
	}
	modOnly := true
	var walk func(x *cmdNode)
	walk = func(x *cmdNode) {
		if x == nil || !modOnly {
			return
		}
		if x.cmd != nil && x.cmd.Access == AccessEveryone {
			modOnly = false
			return
		}
		for _, ch := range x.children {
			walk(ch)
			if !modOnly {
				return
			}
		}
	}
	walk(n)
	return modOnly
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	prevBlank := false
	for _, s := range in {
		blank := strings.TrimSpace(s) == ""
		if blank && prevBlank {
			continue
		}
		prevBlank = blank
		out = append(out, s)
	}
	return out
}
