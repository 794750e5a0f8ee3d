package transfer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

func TestRetrieveOutputsSkipsSuccessOnlyOnFailure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := wire.NewConn(client)
	dir := t.TempDir()

	art := &types.Artifact{Kind: types.ArtifactLocalFile, SuccessOnly: true}
	art.SetCacheName("only-on-success")
	task := &types.Task{ExitCode: 1, Outputs: []types.Mount{{Artifact: art, RemoteName: "out.txt"}}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		missing, n, err := RetrieveOutputs(conn, task, dir, time.Second, nil)
		assert.NoError(t, err)
		assert.Empty(t, missing)
		assert.Zero(t, n)
	}()
	<-done
}

func TestRetrieveOutputsFetchesFile(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := wire.NewConn(client)
	serverConn := wire.NewConn(server)
	dir := t.TempDir()

	art := &types.Artifact{Kind: types.ArtifactLocalFile}
	art.SetCacheName("result-file")
	task := &types.Task{ExitCode: 0, Outputs: []types.Mount{{Artifact: art, RemoteName: "out.txt"}}}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		line, err := serverConn.RecvLine(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "get result-file", line)
		require.NoError(t, serverConn.SendLine(time.Second, "file out.txt %d %o", 5, 0644))
		require.NoError(t, serverConn.SendBytes(time.Second, []byte("hello")))
	}()

	missing, n, err := RetrieveOutputs(conn, task, dir, time.Second, nil)
	<-serverDone
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.EqualValues(t, 5, n)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
