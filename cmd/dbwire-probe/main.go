// Command dbwire-probe is a minimal diagnostic probe: it resolves a server
// address, opens a stream, performs the wire handshake, runs a single
// "ping" command, and prints the handshake and ping latencies and the
// ping reply. Useful for checking connectivity and compression
// negotiation from the command line without a full client.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/clock"
	"github.com/atsika/dbwire/conn"
	"github.com/atsika/dbwire/event"
	"github.com/atsika/dbwire/stream"
	"github.com/atsika/dbwire/wire"
)

func main() {
	hostFlag := flag.String("host", "localhost:27017", "server address, host:port")
	appNameFlag := flag.String("appname", "dbwire-probe", "appName sent in the handshake")
	compressorsFlag := flag.String("compressors", "", "comma-separated compressor preference (zstd,snappy,zlib)")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "connect + handshake + ping timeout")
	tlsFlag := flag.Bool("tls", false, "enable TLS")
	insecureFlag := flag.Bool("insecure", false, "skip TLS certificate and hostname verification")

	flag.Usage = printUsage
	flag.Parse()

	addr, err := address.Parse(*hostFlag)
	if err != nil {
		log.Fatalf("invalid address %q: %v", *hostFlag, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	var streamOpts []stream.Option
	streamOpts = append(streamOpts, stream.WithConnectTimeout(*timeoutFlag))
	if *tlsFlag {
		streamOpts = append(streamOpts, stream.WithTLS(&tls.Config{InsecureSkipVerify: *insecureFlag}, *insecureFlag))
	}
	streamCfg := stream.ApplyOptions(streamOpts...)
	nc, err := stream.Open(ctx, addr, nil, streamCfg)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	connCfg := conn.ApplyOptions(
		conn.WithAppName(*appNameFlag),
		conn.WithCompressors(parseCompressors(*compressorsFlag)...),
	)
	c, err := conn.New(addr, nc, clock.New(), event.NopCommandListener{}, connCfg)
	if err != nil {
		_ = nc.Close()
		log.Fatalf("failed to construct connection: %v", err)
	}
	defer c.Close()

	started := time.Now()
	if err := c.Open(ctx); err != nil {
		log.Fatalf("handshake failed: %v", err)
	}
	handshakeElapsed := time.Since(started)

	pIdx, pingCmd := bsoncore.AppendDocumentStart(nil)
	pingCmd = bsoncore.AppendInt32Element(pingCmd, "ping", 1)
	pingCmd, _ = bsoncore.AppendDocumentEnd(pingCmd, pIdx)

	pingStarted := time.Now()
	reply, err := c.RunCommand(ctx, "admin", pingCmd)
	if err != nil {
		log.Fatalf("ping failed: %v", err)
	}
	pingElapsed := time.Since(pingStarted)

	fmt.Printf("server:     %s\n", addr)
	fmt.Printf("handshake:  %s\n", handshakeElapsed)
	fmt.Printf("ping:       %s\n", pingElapsed)
	fmt.Printf("reply:      %s\n", reply)
}

func parseCompressors(raw string) []wire.CompressorID {
	if raw == "" {
		return nil
	}
	var ids []wire.CompressorID
	for _, name := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "zstd":
			ids = append(ids, wire.CompressorZstd)
		case "snappy":
			ids = append(ids, wire.CompressorSnappy)
		case "zlib":
			ids = append(ids, wire.CompressorZlib)
		}
	}
	return ids
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "dbwire-probe - minimal server connectivity and handshake probe")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  dbwire-probe [-host host:port] [-appname name] [-compressors zstd,snappy,zlib] [-timeout d] [-tls] [-insecure]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Example:")
	fmt.Fprintln(os.Stderr, "  dbwire-probe -host db1.internal:27017 -compressors zstd -timeout 5s")
}
