package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/vm/qemu"
	"github.com/perfgo/bootcheck/vm/vmtest"
)

func TestMemsizeUsageComesFromEngine(t *testing.T) {
	require.Equal(t, "Set memory size in megabytes (default: 2048)", memsizeUsage(&vmtest.Engine{Memsize: 2048}))

	want := memsizeUsage(&qemu.Engine{})
	require.Contains(t, want, "(default: 1024)")

	for _, cmd := range New().cli.Commands {
		if cmd.Name != "bench" && cmd.Name != "verify" {
			continue
		}
		var found bool
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "memsize" {
				require.Equal(t, want, f.Usage, cmd.Name)
				found = true
			}
		}
		require.True(t, found, "%s has --memsize", cmd.Name)
	}
}
