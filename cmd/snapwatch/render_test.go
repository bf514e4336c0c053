package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/loykin/snapwatch/pkg/client"
)

func TestRenderBackups(t *testing.T) {
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })

	var buf bytes.Buffer
	renderBackups(&buf, []client.Backup{
		{Name: "20261016T110000Z", CreatedAt: base.Add(-time.Hour), Size: 2048},
		{Name: "20261015T120000Z", CreatedAt: base.Add(-24 * time.Hour), Size: 1024},
	})
	out := buf.String()
	for _, want := range []string{"20261016T110000Z", "1 hour ago", "2.0 KiB", "Total: 2 backups", "3.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	buf.Reset()
	renderBackups(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No backups" {
		t.Fatalf("unexpected empty output %q", buf.String())
	}
}

func TestRenderEntriesAndHistory(t *testing.T) {
	var buf bytes.Buffer
	renderEntries(&buf, []client.Entry{{Process: "notepad", Running: true, ResolvedSource: "/n.txt", ResolvedDestination: "/b/notepad"}})
	out := buf.String()
	if !strings.Contains(out, "notepad") || !strings.Contains(out, "yes") || !strings.Contains(out, "/b/notepad") {
		t.Fatalf("unexpected entries table:\n%s", out)
	}

	buf.Reset()
	renderHistory(&buf, []client.Event{{Type: "backup_created", Process: "notepad", Backup: "20261016T110000Z"}})
	if !strings.Contains(buf.String(), "backup_created") {
		t.Fatalf("unexpected history table:\n%s", buf.String())
	}
}
