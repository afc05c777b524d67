// Package conn implements the InternalConnection described in spec.md
// §4.1/§4.3: a single handshaken, pipelined stream of OP_MSG commands
// and replies, with command enrichment (lsid/txnNumber/$clusterTime),
// command-monitoring events, and error-driven session dirtying.
package conn

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/auth"
	"github.com/atsika/dbwire/clock"
	"github.com/atsika/dbwire/errkind"
	"github.com/atsika/dbwire/event"
	"github.com/atsika/dbwire/executor"
	"github.com/atsika/dbwire/metadata"
	"github.com/atsika/dbwire/opctx"
	"github.com/atsika/dbwire/session"
	"github.com/atsika/dbwire/stream"
	"github.com/atsika/dbwire/wire"
)

// globalRequestID is the process-wide monotonic request-id source
// every Connection draws from, matching the wire protocol's expectation
// that request ids need only be unique per-peer at any moment — not
// merely per connection — and wrapping to 1 (never 0, which some
// servers treat as "no request id") on overflow.
var globalRequestID atomic.Int32

func nextRequestID() int32 {
	for {
		n := globalRequestID.Add(1)
		if n > 0 {
			return n
		}
		// Overflowed past MaxInt32 (or started negative); reset to 1 and
		// retry. The CAS-free Add already claimed n, so only the rare
		// wrap itself needs correction.
		if globalRequestID.CompareAndSwap(n, 1) {
			return 1
		}
	}
}

type pendingReply struct {
	replyCh chan replyResult
}

type replyResult struct {
	doc bsoncore.Document
	err error
}

// Connection is a single handshaken, pipelined stream of commands
// (spec.md §4.3). Its send path and receive path use independent locks:
// Execute serializes writers on sendMu but never blocks a writer on a
// reply, so N concurrent Executes can have N requests in flight with
// replies arriving out of order — the receive loop demultiplexes by
// responseTo.
type Connection struct {
	cfg  *Config
	addr address.Address
	nc   stream.Stream

	id         int64 // server-reported connectionId, if any
	generation uint64
	serviceID  string // "" outside load-balanced topologies
	createdAt  time.Time

	state atomic.Int32 // State

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int32]*pendingReply

	compressor     wire.CompressorID
	maxMessageSize int32

	clusterClock *clock.ClusterClock
	metadata     *metadata.Metadata
	listener     event.CommandListener

	dirty atomic.Bool

	readDone  chan struct{}
	closeOnce sync.Once
}

// New constructs an unopened Connection bound to addr over nc. clock is
// shared across every Connection under the same client so cluster time
// advances consistently; listener may be nil.
func New(addr address.Address, nc stream.Stream, clusterClock *clock.ClusterClock, listener event.CommandListener, cfg *Config) (*Connection, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}
	md, err := metadata.New(cfg.driverName, cfg.driverVersion, cfg.appName)
	if err != nil {
		return nil, err
	}
	if listener == nil {
		listener = event.NopCommandListener{}
	}

	c := &Connection{
		cfg:            cfg,
		addr:           addr,
		nc:             nc,
		clusterClock:   clusterClock,
		metadata:       md,
		listener:       listener,
		maxMessageSize: cfg.maxMessageSizeBytes,
		pending:        make(map[int32]*pendingReply),
		readDone:       make(chan struct{}),
		createdAt:      time.Now(),
	}
	c.state.Store(int32(Unopened))
	return c, nil
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() State { return State(c.state.Load()) }

// SetGeneration records the pool generation this connection was opened
// under; the pool uses this for stale-on-checkin invalidation (spec.md
// §4.4).
func (c *Connection) SetGeneration(gen uint64) { c.generation = gen }

// Generation returns the pool generation this connection was opened
// under.
func (c *Connection) Generation() uint64 { return c.generation }

// SetServiceID records the load-balancer serviceId this connection
// belongs to, learned from its hello reply. Connections outside a
// load-balanced topology keep the zero value.
func (c *Connection) SetServiceID(id string) { c.serviceID = id }

// ServiceID returns the load-balancer serviceId this connection
// belongs to, or "" outside a load-balanced topology.
func (c *Connection) ServiceID() string { return c.serviceID }

// Address returns the server address this connection is bound to.
func (c *Connection) Address() address.Address { return c.addr }

// CreatedAt returns when this connection was constructed, used by the
// pool's maintenance loop to enforce maxConnLifeTime.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// IsDirty reports whether a network error has been observed on this
// connection; the pool must not reuse or return a dirty connection to
// its idle set (spec.md §4.3/§4.4).
func (c *Connection) IsDirty() bool { return c.dirty.Load() }

func (c *Connection) markDirty() { c.dirty.Store(true) }

// Open performs the initial handshake: starts the background receive
// loop, builds and sends a hello command carrying client metadata and
// compressor preference, and parses the reply to learn the server's max
// message size, negotiated compressor, and connection id.
func (c *Connection) Open(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Unopened), int32(Opening)) {
		return errkind.New(errkind.Internal, "conn.Open", errAlreadyOpened)
	}

	if c.cfg.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.handshakeTimeout)
		defer cancel()
	}

	go c.receiveLoop()

	hello := c.buildHelloCommand()
	reply, err := c.roundTrip(ctx, wire.CompressorNone, hello)
	if err != nil {
		c.state.Store(int32(Closed))
		_ = c.nc.Close()
		c.cfg.logger.Warn("handshake failed", "address", c.addr.String(), "error", err)
		return err
	}

	c.applyHelloReply(reply)

	if c.cfg.credential != nil {
		if err := c.authenticate(ctx, *c.cfg.credential); err != nil {
			c.state.Store(int32(Closed))
			_ = c.nc.Close()
			c.cfg.logger.Warn("authentication failed", "address", c.addr.String(), "mechanism", c.cfg.credential.Mechanism, "error", err)
			return err
		}
	}

	c.state.Store(int32(Opened))
	c.cfg.logger.Debug("handshake complete", "address", c.addr.String(), "compressor", compressorName(c.compressor), "serviceId", c.serviceID)
	return nil
}

// OpenAsync is the callback-mode counterpart to Open (spec.md §5): the
// handshake (and, if configured, authentication) runs on one of exec's
// worker goroutines, never on the calling goroutine.
func (c *Connection) OpenAsync(ctx context.Context, exec *executor.Executor, cb func(error)) {
	exec.Submit(func() { cb(c.Open(ctx)) })
}

// ExecuteAsync is the callback-mode counterpart to Execute.
func (c *Connection) ExecuteAsync(oc *opctx.Context, db, commandName string, cmd bsoncore.Document, exec *executor.Executor, cb func(bsoncore.Document, error)) {
	exec.Submit(func() {
		reply, err := c.Execute(oc, db, commandName, cmd)
		cb(reply, err)
	})
}

// authenticate runs cred's SASL conversation to completion over the
// already-open connection (spec.md §4.3: hello, then a multi-step
// challenge/response exchanged via saslStart/saslContinue before the
// connection is usable for anything else). A failed mechanism step is
// surfaced as a security-kind error and a failed saslStart/saslContinue
// round trip as a handshake-kind error; the connection is left for the
// caller to close.
func (c *Connection) authenticate(ctx context.Context, cred auth.Credential) error {
	conv, err := auth.Start(cred)
	if err != nil {
		return err
	}

	payload, err := conv.Step(ctx, nil)
	if err != nil {
		return errkind.New(errkind.Security, "conn.authenticate", err)
	}

	reply, err := c.RunCommand(ctx, cred.AuthSource(), buildSaslStart(cred.Mechanism, payload))
	if err != nil {
		return errkind.New(errkind.Handshake, "conn.authenticate", err)
	}

	for {
		conversationID, serverPayload, done, err := parseSaslReply(reply)
		if err != nil {
			return errkind.New(errkind.Handshake, "conn.authenticate", err)
		}
		if done && conv.Done() {
			return nil
		}

		payload, err = conv.Step(ctx, serverPayload)
		if err != nil {
			return errkind.New(errkind.Security, "conn.authenticate", err)
		}
		if done {
			// Server considers the conversation finished but the
			// mechanism wants to verify the final server payload; no
			// further round trip is made, matching SCRAM's client-side
			// server-signature check.
			return nil
		}

		reply, err = c.RunCommand(ctx, cred.AuthSource(), buildSaslContinue(conversationID, payload))
		if err != nil {
			return errkind.New(errkind.Handshake, "conn.authenticate", err)
		}
	}
}

func buildSaslStart(mechanism auth.Mechanism, payload []byte) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendInt32Element(doc, "saslStart", 1)
	doc = bsoncore.AppendStringElement(doc, "mechanism", string(mechanism))
	doc = bsoncore.AppendBinaryElement(doc, "payload", 0x00, payload)
	doc = bsoncore.AppendBooleanElement(doc, "autoAuthorize", true)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

func buildSaslContinue(conversationID int32, payload []byte) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendInt32Element(doc, "saslContinue", 1)
	doc = bsoncore.AppendInt32Element(doc, "conversationId", conversationID)
	doc = bsoncore.AppendBinaryElement(doc, "payload", 0x00, payload)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

func parseSaslReply(reply bsoncore.Document) (conversationID int32, payload []byte, done bool, err error) {
	if v, lookupErr := reply.LookupErr("conversationId"); lookupErr == nil {
		if n, ok := v.Int32OK(); ok {
			conversationID = n
		}
	}
	if v, lookupErr := reply.LookupErr("payload"); lookupErr == nil {
		if _, data, ok := v.BinaryOK(); ok {
			payload = data
		}
	}
	if v, lookupErr := reply.LookupErr("done"); lookupErr == nil {
		done, _ = v.BooleanOK()
	}
	return conversationID, payload, done, nil
}

func (c *Connection) buildHelloCommand() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendInt32Element(doc, "hello", 1)
	doc = bsoncore.AppendDocumentElement(doc, "client", c.metadata.Document())
	if len(c.cfg.compressors) > 0 {
		aIdx, arr := bsoncore.AppendArrayStart(nil)
		for i, comp := range c.cfg.compressors {
			arr = bsoncore.AppendStringElement(arr, strconv.Itoa(i), compressorName(comp))
		}
		arr, _ = bsoncore.AppendArrayEnd(arr, aIdx)
		doc = bsoncore.AppendArrayElement(doc, "compression", arr)
	}
	if c.cfg.serverAPI != nil {
		dIdx, apiDoc := bsoncore.AppendDocumentStart(nil)
		apiDoc = bsoncore.AppendStringElement(apiDoc, "version", c.cfg.serverAPI.Version)
		if c.cfg.serverAPI.Strict {
			apiDoc = bsoncore.AppendBooleanElement(apiDoc, "strict", true)
		}
		if c.cfg.serverAPI.DeprecationErrors {
			apiDoc = bsoncore.AppendBooleanElement(apiDoc, "deprecationErrors", true)
		}
		apiDoc, _ = bsoncore.AppendDocumentEnd(apiDoc, dIdx)
		doc = bsoncore.AppendDocumentElement(doc, "apiVersion", apiDoc)
	}
	doc = bsoncore.AppendStringElement(doc, "$db", "admin")
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

func compressorName(id wire.CompressorID) string {
	switch id {
	case wire.CompressorSnappy:
		return "snappy"
	case wire.CompressorZlib:
		return "zlib"
	case wire.CompressorZstd:
		return "zstd"
	default:
		return "noop"
	}
}

func (c *Connection) applyHelloReply(reply bsoncore.Document) {
	if v, err := reply.LookupErr("connectionId"); err == nil {
		if n, ok := v.Int32OK(); ok {
			c.id = int64(n)
		} else if n, ok := v.Int64OK(); ok {
			c.id = n
		}
	}
	if v, err := reply.LookupErr("maxMessageSizeBytes"); err == nil {
		if n, ok := v.Int32OK(); ok {
			c.maxMessageSize = n
		}
	}
	if v, err := reply.LookupErr("serviceId"); err == nil {
		if oid, ok := v.ObjectIDOK(); ok {
			c.serviceID = oid.Hex()
		}
	}
	if v, err := reply.LookupErr("compression"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			values, _ := arr.Values()
			for _, ev := range values {
				if ev.StringValue() == compressorName(preferredOf(c.cfg.compressors)) {
					c.compressor = preferredOf(c.cfg.compressors)
					break
				}
			}
		}
	}
}

func preferredOf(ids []wire.CompressorID) wire.CompressorID {
	if len(ids) == 0 {
		return wire.CompressorNone
	}
	return ids[0]
}

// RunCommand implements session.CommandRunner for the server session
// pool's best-effort endSessions cleanup, and is also the entry point
// command dispatch outside a full OperationContext uses (handshake,
// authentication).
func (c *Connection) RunCommand(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = append(doc, cmd[4:len(cmd)-1]...) // splice cmd's elements, dropping its own length/terminator
	doc = bsoncore.AppendStringElement(doc, "$db", db)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return c.roundTrip(ctx, c.compressor, doc)
}

// Execute dispatches cmd against db on behalf of oc, enriching it with
// lsid/txnNumber/$clusterTime/readConcern per spec.md §4.3, emitting
// command-monitoring events (redacted for sensitive command names), and
// folding the reply's cluster/operation time back into both the shared
// clock and oc's session.
func (c *Connection) Execute(oc *opctx.Context, db, commandName string, cmd bsoncore.Document) (bsoncore.Document, error) {
	enriched := c.enrich(oc, db, cmd)

	requestID := nextRequestID()
	started := time.Now()
	c.listener.CommandStarted(&event.CommandStartedEvent{
		Command:      event.RedactIfSensitive(commandName, enriched),
		DatabaseName: db,
		CommandName:  commandName,
		RequestID:    requestID,
		ConnectionID: c.connIDString(),
	})

	reply, err := c.sendRequestID(oc.Request, requestID, c.compressor, enriched)
	duration := time.Since(started)
	if err != nil {
		c.listener.CommandFailed(&event.CommandFailedEvent{
			Duration:     duration,
			CommandName:  commandName,
			Failure:      err,
			RequestID:    requestID,
			ConnectionID: c.connIDString(),
		})
		if errkind.OfKindMatches(err, errkind.StreamIO, errkind.Timeout, errkind.StreamClosed) {
			c.markDirty()
			oc.Session.MarkDirty()
		}
		return nil, err
	}

	c.listener.CommandSucceeded(&event.CommandSucceededEvent{
		Duration:     duration,
		Reply:        event.RedactIfSensitive(commandName, reply),
		CommandName:  commandName,
		RequestID:    requestID,
		ConnectionID: c.connIDString(),
	})

	c.absorbReply(oc, reply)
	return reply, nil
}

func (c *Connection) connIDString() string {
	return c.addr.String() + "[" + strconv.FormatInt(c.id, 10) + "]"
}

// enrich appends lsid, txnNumber, $clusterTime, readConcern, and
// recoveryToken to cmd per spec.md §4.3/§4.6/§4.7, then $db, and notifies
// the session a message is about to go out over the wire.
func (c *Connection) enrich(oc *opctx.Context, db string, cmd bsoncore.Document) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = append(doc, cmd[4:len(cmd)-1]...)

	if lsid, ok := oc.Session.Lsid(); ok {
		doc = bsoncore.AppendDocumentElement(doc, "lsid", lsid)
	}
	if txn, ok := oc.Session.TransactionNumber(); ok {
		doc = bsoncore.AppendInt64Element(doc, "txnNumber", txn)
	}
	if ct, ok := c.clusterClock.Current(); ok {
		doc = bsoncore.AppendDocumentElement(doc, "$clusterTime", ct.Raw)
	}
	if rc, ok := oc.Session.ReadConcern(); ok {
		doc = bsoncore.AppendDocumentElement(doc, "readConcern", rc)
	}
	if token, ok := oc.Session.RecoveryToken(); ok {
		doc = bsoncore.AppendDocumentElement(doc, "recoveryToken", token)
	}

	doc = bsoncore.AppendStringElement(doc, "$db", db)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	oc.Session.NotifyMessageSent()
	return doc
}

func (c *Connection) absorbReply(oc *opctx.Context, reply bsoncore.Document) {
	if doc, ok := clock.ParseClusterTime(reply); ok {
		c.clusterClock.Advance(doc)
		oc.Session.AdvanceClusterTime(doc)
	}
	if ts, ok := clock.ParseOperationTime(reply); ok {
		oc.Session.AdvanceOperationTime(ts)
	}
	if v, err := reply.LookupErr("recoveryToken"); err == nil {
		if token, ok := v.DocumentOK(); ok {
			if cs, ok := session.Unwrap(oc.Session); ok {
				cs.SetRecoveryToken(token)
			}
		}
	}
}

// roundTrip sends doc and waits for its reply using a fresh request id;
// used for handshake/auth/session-cleanup paths that have no
// OperationContext of their own.
func (c *Connection) roundTrip(ctx context.Context, compressor wire.CompressorID, doc bsoncore.Document) (bsoncore.Document, error) {
	return c.sendRequestID(ctx, nextRequestID(), compressor, doc)
}

func (c *Connection) sendRequestID(ctx context.Context, requestID int32, compressor wire.CompressorID, doc bsoncore.Document) (bsoncore.Document, error) {
	if State(c.state.Load()) == Closed {
		return nil, errkind.New(errkind.StreamClosed, "conn.Execute", errClosed)
	}

	pr := &pendingReply{replyCh: make(chan replyResult, 1)}
	c.pendingMu.Lock()
	c.pending[requestID] = pr
	c.pendingMu.Unlock()

	if err := c.send(ctx, requestID, compressor, doc); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case res := <-pr.replyCh:
		return res.doc, res.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		return nil, errkind.New(errkind.Timeout, "conn.Execute", ctx.Err())
	case <-c.readDone:
		return nil, errkind.New(errkind.StreamIO, "conn.Execute", errClosed)
	}
}

func (c *Connection) send(ctx context.Context, requestID int32, compressor wire.CompressorID, doc bsoncore.Document) error {
	body := wire.EncodeOpMessage(nil, 0, doc)
	opCode := wire.OpMessage

	if compressor != wire.CompressorNone {
		envelope, err := wire.EncodeEnvelope(nil, wire.OpMessage, body, compressor)
		if err != nil {
			return err
		}
		body = envelope
		opCode = wire.OpCompressed
	}

	header := wire.EncodeHeader(nil, wire.Header{
		Length:     int32(wire.HeaderSize + len(body)),
		RequestID:  requestID,
		ResponseTo: 0,
		OpCode:     opCode,
	})

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.nc.Write(ctx, [][]byte{header, body})
	if err != nil {
		return errkind.New(errkind.StreamIO, "conn.send", err)
	}
	return nil
}

// receiveLoop is the single reader of c.nc; it demultiplexes replies to
// their sender by responseTo, enabling pipelined concurrent Executes
// (spec.md §8 scenario 1).
func (c *Connection) receiveLoop() {
	defer close(c.readDone)
	ctx := context.Background()

	for {
		headerBuf := make([]byte, wire.HeaderSize)
		if _, err := c.nc.Read(ctx, headerBuf); err != nil {
			c.failAllPending(err)
			return
		}
		h, err := wire.DecodeHeader(headerBuf, c.maxMessageSize, wire.OpMessage, wire.OpCompressed, wire.OpReply)
		if err != nil {
			c.failAllPending(err)
			return
		}

		bodyLen := int(h.Length) - wire.HeaderSize
		body := make([]byte, bodyLen)
		if bodyLen > 0 {
			if _, err := c.nc.Read(ctx, body); err != nil {
				c.failAllPending(err)
				return
			}
		}

		doc, err := decodeBody(h.OpCode, body)
		c.dispatch(h.ResponseTo, doc, err)
	}
}

func decodeBody(opCode wire.OpCode, body []byte) (bsoncore.Document, error) {
	switch opCode {
	case wire.OpMessage:
		_, doc, err := wire.DecodeOpMessage(body)
		return doc, err
	case wire.OpCompressed:
		env, err := wire.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		_, doc, err := wire.DecodeOpMessage(env.Payload)
		return doc, err
	default:
		reply, err := wire.DecodeLegacyReply(body)
		if err != nil {
			return nil, err
		}
		d, _, ok := bsoncore.ReadDocument(reply.Documents)
		if !ok {
			return nil, errkind.New(errkind.Framing, "conn.decodeBody", errReplyRequestIDMismatch)
		}
		return d, nil
	}
}

func (c *Connection) dispatch(responseTo int32, doc bsoncore.Document, err error) {
	c.pendingMu.Lock()
	pr, ok := c.pending[responseTo]
	if ok {
		delete(c.pending, responseTo)
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}
	pr.replyCh <- replyResult{doc: doc, err: err}
}

func (c *Connection) failAllPending(cause error) {
	wrapped := errkind.New(errkind.StreamIO, "conn.receiveLoop", cause)
	c.markDirty()
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int32]*pendingReply)
	c.pendingMu.Unlock()

	for _, pr := range pending {
		pr.replyCh <- replyResult{err: wrapped}
	}
}

// Close terminates the connection's underlying stream and fails any
// requests still awaiting a reply.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closed))
		err = c.nc.Close()
	})
	return err
}
