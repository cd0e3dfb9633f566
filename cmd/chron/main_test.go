package main

import "testing"

func TestCommandFlagsRegistered(t *testing.T) {
	tests := []struct {
		command string
		flag    string
		short   string
	}{
		{"snapshots", "label", "l"},
		{"history", "documents", "d"},
		{"changes", "since", "s"},
		{"log", "limit", "n"},
		{"export", "output", "o"},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.command})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", tt.command, err)
			}
			f := cmd.Flags().Lookup(tt.flag)
			if f == nil {
				t.Fatalf("command %q has no --%s flag", tt.command, tt.flag)
			}
			if f.Shorthand != tt.short {
				t.Errorf("flag --%s shorthand = %q, want %q", tt.flag, f.Shorthand, tt.short)
			}
		})
	}
}
