package lspadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer writes a tiny Python-free shell script that speaks
// LSP-framed JSON-RPC: it echoes back a canned "initialize" response
// and, on "shutdown", a canned empty result, and exits on "exit".
func fakeServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-lsp.sh")

	script := `#!/bin/sh
reply() {
	body="$1"
	len=$(printf '%s' "$body" | wc -c)
	printf 'Content-Length: %d\r\n\r\n%s' "$len" "$body"
}

while true; do
	# Read headers until a blank line.
	content_length=0
	while IFS= read -r line; do
		line=$(printf '%s' "$line" | tr -d '\r')
		if [ -z "$line" ]; then
			break
		fi
		case "$line" in
			Content-Length:*) content_length=$(printf '%s' "$line" | sed 's/Content-Length: *//');;
		esac
	done

	[ "$content_length" -gt 0 ] || exit 0

	body=$(dd bs=1 count="$content_length" 2>/dev/null)

	case "$body" in
		*'"method":"initialize"'*)
			id=$(printf '%s' "$body" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
			reply "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"ok\":true}}"
			;;
		*'"method":"shutdown"'*)
			id=$(printf '%s' "$body" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
			reply "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":null}"
			;;
		*'"method":"exit"'*)
			exit 0
			;;
	esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCallRoundTrip(t *testing.T) {
	bin := fakeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := Spawn(ctx, "/bin/sh", bin)
	require.NoError(t, err)

	result, err := a.Call(ctx, "initialize", nil)
	require.NoError(t, err)
	require.Contains(t, string(result), `"ok":true`)

	err = a.Shutdown(ctx, 2*time.Second)
	require.NoError(t, err)
}

func TestCallPropagatesServerError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "error-lsp.sh")
	script := fmt.Sprintf(`#!/bin/sh
while IFS= read -r line; do
	line=$(printf '%%s' "$line" | tr -d '\r')
	[ -z "$line" ] && break
done
body='{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}'
len=$(printf '%%s' "$body" | wc -c)
printf 'Content-Length: %%d\r\n\r\n%%s' "$len" "$body"
`)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := Spawn(ctx, "/bin/sh", path)
	require.NoError(t, err)

	_, err = a.Call(ctx, "unknown/method", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "method not found")
}
