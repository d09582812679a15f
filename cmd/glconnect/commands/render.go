package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/store"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
	headColor = color.New(color.Bold)
)

func success(w io.Writer, format string, args ...any) {
	okColor.Fprintf(w, format+"\n", args...)
}

func failure(w io.Writer, format string, args ...any) {
	errColor.Fprintf(w, format+"\n", args...)
}

func heading(w io.Writer, format string, args ...any) {
	headColor.Fprintf(w, format+"\n", args...)
}

func printProjects(w io.Writer, projects []gitlab.Project, selected func(int) bool) {
	for _, p := range projects {
		mark := " "
		if selected != nil && selected(p.ID) {
			mark = okColor.Sprint("x")
		}
		fmt.Fprintf(w, "[%s] %-8d %s", mark, p.ID, p.PathWithNamespace)
		if p.Description != "" {
			dimColor.Fprintf(w, "  %s", oneLine(p.Description))
		}
		fmt.Fprintln(w)
	}
}

func printImported(w io.Writer, projects []store.ImportedProject) {
	for _, p := range projects {
		fmt.Fprintf(w, "%-8d %s", p.ID, p.PathWithNamespace)
		dimColor.Fprintf(w, "  imported %s", p.ImportedAt.Format("2006-01-02 15:04"))
		fmt.Fprintln(w)
	}
}

func printRepositories(w io.Writer, repos []store.Repository) {
	for _, r := range repos {
		status := warnColor.Sprint("inactive")
		if r.IsActive {
			status = okColor.Sprint("active")
		}
		synced := ""
		if r.IsSynced {
			synced = ", synced"
		}
		fmt.Fprintf(w, "%s  %s (%s%s)", r.ID, r.Name, status, synced)
		if r.GitlabProjectID != 0 {
			dimColor.Fprintf(w, "  gitlab #%d", r.GitlabProjectID)
		}
		fmt.Fprintln(w)
	}
}

func oneLine(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) > 72 {
		return s[:69] + "..."
	}
	return s
}
