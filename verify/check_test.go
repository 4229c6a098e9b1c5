package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/bootcheck/vm"
)

func TestRunCheckRecoversPanics(t *testing.T) {
	err := runCheck(context.Background(), "post-boot check", func(ctx context.Context, s *vm.Session, disk string, metadata []byte) error {
		var m map[string]int
		m["boom"]++
		return nil
	}, nil, "", nil)
	require.ErrorContains(t, err, "post-boot check panicked")

	boom := errors.New("boom")
	err = runCheck(context.Background(), "post-boot check", func(ctx context.Context, s *vm.Session, disk string, metadata []byte) error {
		return boom
	}, nil, "", nil)
	require.ErrorIs(t, err, boom)
}

func TestCommandCheck(t *testing.T) {
	check, err := CommandCheck(zerolog.Nop(), []string{
		"sh", "-c", `test "$BOOTCHECK_DISK" = guest.img && grep -q operatingsystems "$BOOTCHECK_METADATA"`,
	})
	require.NoError(t, err)
	require.NoError(t, check(context.Background(), nil, "guest.img", []byte("<operatingsystems/>")))
	require.Error(t, check(context.Background(), nil, "other.img", []byte("<operatingsystems/>")))
}

func TestCommandCheckWithoutMetadata(t *testing.T) {
	check, err := CommandCheck(zerolog.Nop(), []string{"sh", "-c", `test -z "$BOOTCHECK_METADATA"`})
	require.NoError(t, err)
	require.NoError(t, check(context.Background(), nil, "guest.img", nil))
}

func TestCommandCheckReportsOutputTail(t *testing.T) {
	check, err := CommandCheck(zerolog.Nop(), []string{"sh", "-c", "echo one; echo 'fstab is missing' >&2; exit 3"})
	require.NoError(t, err)

	err = check(context.Background(), nil, "guest.img", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fstab is missing")
	require.Contains(t, err.Error(), "exit status 3")
}

func TestCommandCheckEmpty(t *testing.T) {
	_, err := CommandCheck(zerolog.Nop(), nil)
	require.ErrorIs(t, err, ErrEmptyCommand)
}

func TestLastLines(t *testing.T) {
	require.Equal(t, "c\nd", lastLines("a\nb\nc\nd\n", 2))
	require.Equal(t, "", lastLines("", 5))
}
