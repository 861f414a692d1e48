package logservice

import (
	"context"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, srv LogServiceServer) (Client, func()) {
	ctx := context.Background()
	lis := bufconn.Listen(1 << 20)
	grpcServer := NewServer(ctx, metrics.Discard, srv)
	go func() {
		_ = grpcServer.Serve(lis)
	}()

	connector := &GRPCConnector{
		Target: "bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
	client, err := connector.Connect(ctx)
	require.NoError(t, err)
	return client, func() {
		assert.NoError(t, client.Close())
		grpcServer.Stop()
	}
}

func writeSpool(t *testing.T, dir, name, content string) {
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func readAll(t *testing.T, e Entry) string {
	r, err := e.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestDirServerOverGRPC(t *testing.T) {
	dir, err := ioutil.TempDir("", "spool")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	writeSpool(t, dir, "data_app_anr@30.txt", "anr 30")
	writeSpool(t, dir, "data_app_anr@10.txt", "anr 10")
	writeSpool(t, dir, "SYSTEM_TOMBSTONE@20.txt", "tombstone")
	writeSpool(t, dir, "SYSTEM_TOMBSTONE@25.lost", "")
	writeSpool(t, dir, "not-a-spool-file", "junk")

	client, stop := startServer(t, NewDirServer(dir))
	defer stop()
	ctx := context.Background()

	v, err := client.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, ServiceVersion, v)

	require.NoError(t, client.SetTagFilter(ctx, []string{"data_app_anr", "SYSTEM_TOMBSTONE"}))

	var seen []int64
	after := int64(0)
	for {
		e, err := client.GetNextEntry(ctx, after)
		require.NoError(t, err)
		if e == nil {
			break
		}
		seen = append(seen, e.TimeMillis())
		after = e.TimeMillis()
		if e.TimeMillis() == 25 {
			size, err := e.Size()
			require.NoError(t, err)
			assert.Zero(t, size)
		}
		if e.TimeMillis() == 10 {
			assert.Equal(t, "data_app_anr", e.Tag())
			assert.Equal(t, "anr 10", readAll(t, e))
		}
		assert.NoError(t, e.Close())
	}
	assert.Equal(t, []int64{10, 20, 25, 30}, seen)
}

func TestDirServerTagFilter(t *testing.T) {
	dir, err := ioutil.TempDir("", "spool")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	writeSpool(t, dir, "data_app_anr@10.txt", "anr")
	writeSpool(t, dir, "SYSTEM_LAST_KMSG@20.txt", "kmsg")

	client, stop := startServer(t, NewDirServer(dir))
	defer stop()
	ctx := context.Background()

	require.NoError(t, client.SetTagFilter(ctx, []string{"SYSTEM_LAST_KMSG"}))
	e, err := client.GetNextEntry(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "SYSTEM_LAST_KMSG", e.Tag())
	assert.NoError(t, e.Close())

	e, err = client.GetNextEntry(ctx, 20)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCompressedAndInlineEntries(t *testing.T) {
	dir, err := ioutil.TempDir("", "spool")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	f, err := os.Create(filepath.Join(dir, "system_server_crash@5.txt.gz"))
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte("java.lang.RuntimeException"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	srv := NewDirServer(dir)
	srv.InlineMaxBytes = 1 << 10
	client, stop := startServer(t, srv)
	defer stop()

	e, err := client.GetNextEntry(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "java.lang.RuntimeException", readAll(t, e))
	assert.NoError(t, e.Close())

	_, err = e.Open()
	assert.Error(t, err, "closed entries cannot be reopened")
}

func TestMissingSpoolDirectoryIsEmpty(t *testing.T) {
	client, stop := startServer(t, NewDirServer("/nonexistent/spool"))
	defer stop()
	e, err := client.GetNextEntry(context.Background(), 0)
	assert.NoError(t, err)
	assert.Nil(t, e)
}

func TestParseSpoolName(t *testing.T) {
	sf, ok := parseSpoolName("system_app_anr@1620967982123.txt.gz")
	require.True(t, ok)
	assert.Equal(t, "system_app_anr", sf.tag)
	assert.Equal(t, int64(1620967982123), sf.timeMillis)
	assert.True(t, sf.compressed)
	assert.False(t, sf.lost)

	_, ok = parseSpoolName("@1.txt")
	assert.False(t, ok)
	_, ok = parseSpoolName("tag@abc.txt")
	assert.False(t, ok)
}
