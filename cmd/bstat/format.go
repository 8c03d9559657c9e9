package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
)

func value(e *batch.StatusEntry, name string) string {
	v, _ := e.Value(name, "")
	return v
}

// owner returns the user part of Job_Owner.
func owner(e *batch.StatusEntry) string {
	u, _, _ := strings.Cut(value(e, "Job_Owner"), "@")
	return u
}

func printJobTable(w io.Writer, entries []*batch.StatusEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%-17s %-16s %-16s %s %s\n", "Job id", "Name", "User", "S", "Queue")
	fmt.Fprintf(w, "%-17s %-16s %-16s %s %s\n",
		strings.Repeat("-", 16), strings.Repeat("-", 16), strings.Repeat("-", 16), "-", "-----")
	for _, e := range entries {
		state := value(e, "job_state")
		if state == "" {
			state = "?"
		}
		fmt.Fprintf(w, "%-17.17s %-16.16s %-16.16s %1.1s %s\n",
			e.Name, value(e, "Job_Name"), owner(e), state, value(e, "queue"))
	}
}

func printQueueTable(w io.Writer, entries []*batch.StatusEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%-16s %5s %3s %3s %s\n", "Queue", "Tot", "Ena", "Str", "State Count")
	fmt.Fprintf(w, "%-16s %5s %3s %3s %s\n", strings.Repeat("-", 16), "-----", "---", "---", strings.Repeat("-", 11))
	for _, e := range entries {
		fmt.Fprintf(w, "%-16.16s %5s %3s %3s %s\n",
			e.Name, value(e, "total_jobs"), yesNo(value(e, "enabled")), yesNo(value(e, "started")), value(e, "state_count"))
	}
}

func printServerTable(w io.Writer, entries []*batch.StatusEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%-16s %5s %-12s %s\n", "Server", "Tot", "Status", "State Count")
	fmt.Fprintf(w, "%-16s %5s %-12s %s\n", strings.Repeat("-", 16), "-----", strings.Repeat("-", 12), strings.Repeat("-", 11))
	for _, e := range entries {
		fmt.Fprintf(w, "%-16.16s %5s %-12s %s\n",
			e.Name, value(e, "total_jobs"), value(e, "server_state"), value(e, "state_count"))
	}
}

func yesNo(v string) string {
	switch strings.ToLower(v) {
	case "true", "t", "1", "y":
		return "yes"
	case "":
		return ""
	default:
		return "no"
	}
}

// printFull writes every attribute of each entry, one per line.
func printFull(w io.Writer, entries []*batch.StatusEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s: %s\n", fullTitle(e.Kind), e.Name)
		for _, f := range e.Attrs.Fragments() {
			fmt.Fprintf(w, "    %s = %s\n", fragmentName(f), f.Value)
		}
		fmt.Fprintln(w)
	}
}

func fullTitle(k batch.ObjectKind) string {
	switch k {
	case batch.KindJob:
		return "Job Id"
	case batch.KindQueue:
		return "Queue"
	case batch.KindServer:
		return "Server"
	default:
		return k.String()
	}
}

func fragmentName(f attr.Fragment) string {
	if f.Resource == "" {
		return f.Name
	}
	return f.Name + "." + f.Resource
}
