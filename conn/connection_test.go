package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/clock"
	"github.com/atsika/dbwire/opctx"
	"github.com/atsika/dbwire/session"
	"github.com/atsika/dbwire/wire"
)

// pipeStream adapts a net.Conn (from net.Pipe) to the stream.Stream
// interface for tests; it ignores ctx deadlines since the pipe never
// blocks indefinitely in these tests.
type pipeStream struct {
	nc net.Conn
}

func (p *pipeStream) Read(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := p.nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *pipeStream) Write(ctx context.Context, bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := p.nc.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *pipeStream) Close() error         { return p.nc.Close() }
func (p *pipeStream) LocalAddr() net.Addr  { return p.nc.LocalAddr() }
func (p *pipeStream) RemoteAddr() net.Addr { return p.nc.RemoteAddr() }

// fakeServerReply reads one OP_MSG request from conn and replies with reply,
// echoing the request's requestID as responseTo.
func fakeServerReply(t *testing.T, server net.Conn, reply bsoncore.Document) int32 {
	t.Helper()
	headerBuf := make([]byte, wire.HeaderSize)
	_, err := readFullTest(server, headerBuf)
	require.NoError(t, err)
	h, err := wire.DecodeHeader(headerBuf, 0, wire.OpMessage)
	require.NoError(t, err)

	body := make([]byte, int(h.Length)-wire.HeaderSize)
	_, err = readFullTest(server, body)
	require.NoError(t, err)

	respBody := wire.EncodeOpMessage(nil, 0, reply)
	respHeader := wire.EncodeHeader(nil, wire.Header{
		Length:     int32(wire.HeaderSize + len(respBody)),
		RequestID:  9000,
		ResponseTo: h.RequestID,
		OpCode:     wire.OpMessage,
	})
	_, err = server.Write(append(respHeader, respBody...))
	require.NoError(t, err)
	return h.RequestID
}

func readFullTest(r net.Conn, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func okReplyDocument() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendInt32Element(doc, "ok", 1)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

func TestConnectionOpenHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c, err := New(address.Address{Host: "localhost", Port: 27017}, &pipeStream{nc: client}, clock.New(), nil, nil)
	require.NoError(t, err)

	helloReply := okReplyDocument()
	go fakeServerReply(t, server, helloReply)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Open(ctx))
	assert.Equal(t, Opened, c.State())
}

func TestConnectionExecuteRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c, err := New(address.Address{Host: "localhost", Port: 27017}, &pipeStream{nc: client}, clock.New(), nil, nil)
	require.NoError(t, err)

	go fakeServerReply(t, server, okReplyDocument())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Open(ctx))

	pool := session.NewServerSessionPool()
	sess := session.Implicit(pool)
	oc, ocCancel := opctx.New(context.Background(), sess, 2*time.Second)
	defer ocCancel()

	idx, cmd := bsoncore.AppendDocumentStart(nil)
	cmd = bsoncore.AppendInt32Element(cmd, "ping", 1)
	cmd, _ = bsoncore.AppendDocumentEnd(cmd, idx)

	go fakeServerReply(t, server, okReplyDocument())
	reply, err := c.Execute(oc, "admin", "ping", cmd)
	require.NoError(t, err)
	v, err := reply.LookupErr("ok")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Int32())
}

func TestConnectionPipelinedOutOfOrderReplies(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c, err := New(address.Address{Host: "localhost", Port: 27017}, &pipeStream{nc: client}, clock.New(), nil, nil)
	require.NoError(t, err)

	go fakeServerReply(t, server, okReplyDocument())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Open(ctx))

	pool := session.NewServerSessionPool()

	type result struct {
		err error
	}
	results := make(chan result, 3)

	// Server goroutine: reads 3 requests, then replies out of order
	// (3rd request first), exercising the receive loop's
	// responseTo-keyed dispatch rather than FIFO assumption.
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		var ids []int32
		for i := 0; i < 3; i++ {
			headerBuf := make([]byte, wire.HeaderSize)
			_, _ = readFullTest(server, headerBuf)
			h, _ := wire.DecodeHeader(headerBuf, 0, wire.OpMessage)
			body := make([]byte, int(h.Length)-wire.HeaderSize)
			_, _ = readFullTest(server, body)
			ids = append(ids, h.RequestID)
		}
		// reply in reverse order
		for i := len(ids) - 1; i >= 0; i-- {
			respBody := wire.EncodeOpMessage(nil, 0, okReplyDocument())
			respHeader := wire.EncodeHeader(nil, wire.Header{
				Length:     int32(wire.HeaderSize + len(respBody)),
				RequestID:  9000 + int32(i),
				ResponseTo: ids[i],
				OpCode:     wire.OpMessage,
			})
			_, _ = server.Write(append(respHeader, respBody...))
		}
	}()

	for i := 0; i < 3; i++ {
		go func() {
			sess := session.Implicit(pool)
			oc, cancel := opctx.New(context.Background(), sess, 2*time.Second)
			defer cancel()
			idx, cmd := bsoncore.AppendDocumentStart(nil)
			cmd = bsoncore.AppendInt32Element(cmd, "ping", 1)
			cmd, _ = bsoncore.AppendDocumentEnd(cmd, idx)
			_, err := c.Execute(oc, "admin", "ping", cmd)
			results <- result{err: err}
		}()
	}

	for i := 0; i < 3; i++ {
		r := <-results
		assert.NoError(t, r.err)
	}
	<-serverDone
}
