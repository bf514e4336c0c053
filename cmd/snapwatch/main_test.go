package main

import (
	"testing"
)

func TestBuildRootHasCommands(t *testing.T) {
	root := buildRoot()
	want := []string{"serve", "entries", "list", "backup", "restore", "delete", "add", "remove", "rename", "processes", "history", "checksum"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == nil || cmd.Name() != name {
			t.Fatalf("missing subcommand %q: %v", name, err)
		}
	}
	for _, flag := range []string{"config", "api-url", "api-timeout", "json"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Fatalf("missing persistent flag %q", flag)
		}
	}
}

func TestArgsValidation(t *testing.T) {
	cases := [][]string{
		{"list"},
		{"delete", "notepad"},
		{"rename", "a"},
		{"add", "a", "/src"},
		{"remove"},
		{"checksum"},
		{"entries", "extra"},
	}
	for _, args := range cases {
		root := buildRoot()
		root.SetArgs(args)
		root.SilenceErrors = true
		if err := root.Execute(); err == nil {
			t.Fatalf("expected argument error for %v", args)
		}
	}
}

func TestRestoreFlag(t *testing.T) {
	root := buildRoot()
	cmd, _, err := root.Find([]string{"restore"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Flags().Lookup("backup") == nil {
		t.Fatalf("restore should accept --backup")
	}
	serve, _, _ := root.Find([]string{"serve"})
	for _, f := range []string{"confirm", "dry-run", "listen", "no-server"} {
		if serve.Flags().Lookup(f) == nil {
			t.Fatalf("serve should accept --%s", f)
		}
	}
}
