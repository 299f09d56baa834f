package cli

import (
	"testing"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"run":              true,
		"devices":          true,
		"questions":        true,
		"cache":            true,
		"recommend":        true,
		"update-questions": true,
	}
	cmds := rootCmd.Commands()
	if len(cmds) < len(want) {
		t.Errorf("root has %d subcommands, want at least %d", len(cmds), len(want))
	}
	got := make(map[string]bool)
	for _, c := range cmds {
		got[c.Name()] = true
	}
	for name := range want {
		if !got[name] {
			t.Errorf("root missing subcommand %q", name)
		}
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, name := range []string{"model", "devices", "workers", "questions", "cache", "dtype", "json", "cli", "verbose"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("root missing persistent flag --%s", name)
		}
	}
}

func TestRecommendCmd_Flags(t *testing.T) {
	if recommendCmd.Flags().Lookup("max-drop") == nil {
		t.Error("recommend command missing --max-drop flag")
	}
	if recommendCmd.Flags().Lookup("experiment") == nil {
		t.Error("recommend command missing --experiment flag")
	}
}

func TestCacheCmd_Flags(t *testing.T) {
	if cacheCmd.Flags().Lookup("clear") == nil {
		t.Error("cache command missing --clear flag")
	}
	if cacheCmd.Flags().Lookup("delete") == nil {
		t.Error("cache command missing --delete flag")
	}
}
