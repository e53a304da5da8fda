package main

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/toolrouter/internal/config"
)

func TestServeStdio_UpsertThenQuery(t *testing.T) {
	dispatcher := buildDispatcher(config.Default())

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		serveStdio(dispatcher, stdinR, stdoutW)
		close(done)
	}()

	upsert := `{"jsonrpc":"2.0","id":1,"method":"catalog.upsertTools","params":{"tools":[{"toolId":"slack:post_message","toolName":"post_message","serverId":"slack"}]}}`
	query := `{"jsonrpc":"2.0","id":2,"method":"search.query","params":{"query":"post_message"}}`

	_, err = stdinW.WriteString(upsert + "\n" + query + "\n")
	require.NoError(t, err)
	require.NoError(t, stdinW.Close())

	reader := bufio.NewScanner(stdoutR)

	require.True(t, reader.Scan())
	var upsertResp map[string]any
	require.NoError(t, json.Unmarshal(reader.Bytes(), &upsertResp))
	assert.Nil(t, upsertResp["error"])

	require.True(t, reader.Scan())
	var queryResp map[string]any
	require.NoError(t, json.Unmarshal(reader.Bytes(), &queryResp))
	assert.Nil(t, queryResp["error"])
	result, ok := queryResp["result"].(map[string]any)
	require.True(t, ok)
	hits, ok := result["hits"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, hits)

	require.NoError(t, stdoutW.Close())
	<-done
}

func TestRunDaemon_HelpDoesNotPanic(t *testing.T) {
	runDaemon([]string{"--help"})
}
