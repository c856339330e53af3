package main

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/server"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

func listenAndServe(t *testing.T, gated bool) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(testhelper.NewDiscardingLogEntry(t), server.NewHealthServer(gated))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	t.Cleanup(func() {
		srv.Stop()
		require.NoError(t, <-errCh)
	})

	return listener.Addr().String()
}

func TestCheckHealthSubcommand(t *testing.T) {
	for _, tc := range []struct {
		desc        string
		gated       bool
		expectedErr error
		status      string
	}{
		{
			desc:   "serving",
			status: "SERVING",
		},
		{
			desc:        "not serving",
			gated:       true,
			expectedErr: errNotServing,
			status:      "NOT_SERVING",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			addr := listenAndServe(t, tc.gated)

			var output bytes.Buffer
			cmd := newCheckHealthSubcommand(&output)
			fs := cmd.FlagSet()
			require.NoError(t, fs.Parse([]string{"-timeout", "5s"}))

			err := cmd.Exec(fs, config.Config{ListenAddr: addr})
			require.Equal(t, tc.expectedErr, err)
			require.Equal(t, addr+": "+tc.status+"\n", output.String())
		})
	}
}

func TestCheckHealthSubcommand_noListenAddr(t *testing.T) {
	cmd := newCheckHealthSubcommand(&bytes.Buffer{})
	fs := cmd.FlagSet()
	require.NoError(t, fs.Parse(nil))

	require.EqualError(t, cmd.Exec(fs, config.Config{}), "no listen address configured")
}

func TestCheckHealthSubcommand_unreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	cmd := newCheckHealthSubcommand(&bytes.Buffer{})
	fs := cmd.FlagSet()
	require.NoError(t, fs.Parse([]string{"-timeout", "100ms"}))

	err = cmd.Exec(fs, config.Config{ListenAddr: addr})
	require.Error(t, err)
}
